// Operator console for exercising a running order-service: sample
// checkout, order lookup, webhook replay, cancellation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	vetID     string
	orderID   string
	status    string
	detail    string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"health", "Check service health"},
			{"checkout", "Run a sample cart + order creation"},
			{"lookup", "Look up the last created order"},
			{"link", "Create payment link for the last order"},
			{"webhook", "Replay an approved-payment webhook"},
			{"cancel", "Cancel the last order"},
		},
		vetID:  getenv("VET_ID", "vet-demo"),
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			m.detail = ""
			return m, runScenarioCmd(m.scenarios[m.selected].Name, m.vetID, m.orderID)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.detail = msg.detail
		if msg.orderID != "" {
			m.orderID = msg.orderID
		}
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "directToVet operator console")
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Vet: %s", m.vetID)
	if m.orderID != "" {
		fmt.Fprintf(b, "   Last order: %s", m.orderID)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.detail != "" {
		fmt.Fprintf(b, "Detail: %s\n", m.detail)
	}
	fmt.Fprintln(b, "\nControls: up/down select, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	detail  string
	orderID string
}

func runScenarioCmd(name, vetID, orderID string) tea.Cmd {
	return func() tea.Msg {
		baseURL := strings.TrimRight(getenv("ORDER_BASE_URL", "http://localhost:8080"), "/")
		switch name {
		case "health":
			body, err := call(http.MethodGet, baseURL+"/health", nil)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Health check failed: %v", err)}
			}
			return scenarioResult{status: "Service healthy", detail: body}
		case "checkout":
			return runCheckout(baseURL, vetID)
		case "lookup":
			if orderID == "" {
				return scenarioResult{status: "No order yet, run checkout first"}
			}
			body, err := call(http.MethodGet, baseURL+"/orders/"+orderID, nil)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Lookup failed: %v", err)}
			}
			return scenarioResult{status: "Order found", detail: body}
		case "link":
			if orderID == "" {
				return scenarioResult{status: "No order yet, run checkout first"}
			}
			body, err := call(http.MethodPost, baseURL+"/orders/"+orderID+"/payment-link",
				map[string]any{"vet_id": vetID})
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Payment link failed: %v", err)}
			}
			return scenarioResult{status: "Payment link response", detail: body}
		case "webhook":
			payload := map[string]any{
				"type":   "payment",
				"action": "payment.updated",
				"data":   map[string]any{"id": uuid.NewString()},
			}
			u := baseURL + "/mp/webhook/v2?vet_id=" + url.QueryEscape(vetID)
			body, err := call(http.MethodPost, u, payload)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Webhook replay failed: %v", err)}
			}
			return scenarioResult{status: "Webhook acknowledged", detail: body}
		case "cancel":
			if orderID == "" {
				return scenarioResult{status: "No order yet, run checkout first"}
			}
			body, err := call(http.MethodPost, baseURL+"/orders/"+orderID+"/cancel",
				map[string]any{"notify_customer": false})
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Cancel failed: %v", err)}
			}
			return scenarioResult{status: "Cancel response", detail: body}
		}
		return scenarioResult{status: "Unknown scenario"}
	}
}

func runCheckout(baseURL, vetID string) scenarioResult {
	session := "cli-" + uuid.NewString()[:8]

	if _, err := call(http.MethodPost, baseURL+"/cart/"+session+"/items", map[string]any{
		"sku":        "DOG-FOOD-15KG",
		"name":       "Alimento perro adulto 15kg",
		"quantity":   1,
		"unit_price": "45000",
	}); err != nil {
		return scenarioResult{status: fmt.Sprintf("Cart add failed: %v", err)}
	}

	body, err := call(http.MethodPost, baseURL+"/orders", map[string]any{
		"session_id":        session,
		"vet_id":            vetID,
		"customer_name":     "Ana",
		"customer_lastname": "Gomez",
		"customer_email":    "ana@example.com",
		"customer_whatsapp": "+5491155550001",
		"delivery_mode":     "PICKUP",
	})
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Order create failed: %v", err)}
	}

	var res struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	}
	_ = json.Unmarshal([]byte(body), &res)
	return scenarioResult{status: "Order created", detail: body, orderID: res.Order.OrderID}
}

func call(method, url string, payload any) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return strings.TrimSpace(string(data)), nil
}

func main() {
	runCmd := flag.String("run", "", "run scenario: health|checkout|lookup|link|webhook|cancel")
	flag.Parse()

	if *runCmd != "" {
		m := initialModel()
		res := runScenarioCmd(*runCmd, m.vetID, "")().(scenarioResult)
		fmt.Println(res.status)
		if res.detail != "" {
			fmt.Println(res.detail)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
