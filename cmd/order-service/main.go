package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/audit"
	"github.com/CaraccioloSergio/directToVet/internal/cart"
	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/notify"
	"github.com/CaraccioloSergio/directToVet/internal/order/lifecycle"
	"github.com/CaraccioloSergio/directToVet/internal/order/store"
	"github.com/CaraccioloSergio/directToVet/internal/shipping"
	"github.com/CaraccioloSergio/directToVet/internal/tokenvault"
	"github.com/CaraccioloSergio/directToVet/internal/webhook"
	"github.com/CaraccioloSergio/directToVet/pkg/kafka"
	"github.com/CaraccioloSergio/directToVet/pkg/metrics"
)

type cfg struct {
	Port        string
	DatabaseURL string

	MPClientID     string
	MPClientSecret string
	MPRedirectURI  string
	MPAuthURL      string
	MPTokenURL     string
	MPAPIBaseURL   string
	MPTimeout      time.Duration

	WebhookBaseURL string
	TokenStorePath string

	KafkaBrokers string
	NotifyTopic  string

	WebhookDedupSize int
}

func readCfg() cfg {
	toutMS, _ := strconv.Atoi(getenv("MP_TIMEOUT_MS", "30000"))
	dedup, _ := strconv.Atoi(getenv("WEBHOOK_DEDUP_SIZE", "10000"))

	return cfg{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		MPClientID:     strings.TrimSpace(os.Getenv("MP_CLIENT_ID")),
		MPClientSecret: strings.TrimSpace(os.Getenv("MP_CLIENT_SECRET")),
		MPRedirectURI:  strings.TrimSpace(os.Getenv("MP_REDIRECT_URI")),
		MPAuthURL:      getenv("MP_AUTH_URL", "https://auth.mercadopago.com/authorization"),
		MPTokenURL:     getenv("MP_TOKEN_URL", "https://api.mercadopago.com/oauth/token"),
		MPAPIBaseURL:   strings.TrimRight(getenv("MP_API_BASE_URL", "https://api.mercadopago.com"), "/"),
		MPTimeout:      time.Duration(toutMS) * time.Millisecond,

		WebhookBaseURL: strings.TrimRight(getenv("WEBHOOK_BASE_URL", "http://localhost:8080"), "/"),
		TokenStorePath: getenv("TOKEN_STORE_PATH", "data/vet_tokens.json"),

		KafkaBrokers: strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		NotifyTopic:  getenv("NOTIFY_TOPIC", "dtv.notifications"),

		WebhookDedupSize: dedup,
	}
}

// defaultRates is the development coverage table; production reads
// shipping_rates from Postgres.
func defaultRates() *shipping.StaticRates {
	return shipping.NewStaticRates(map[string]decimal.Decimal{
		"centro":    decimal.NewFromInt(1500),
		"norte":     decimal.NewFromInt(2000),
		"sur":       decimal.NewFromInt(2000),
		"oeste":     decimal.NewFromInt(2500),
		"periferia": decimal.NewFromInt(3000),
	})
}

func main() {
	cfg := readCfg()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		orders   store.Store
		rates    shipping.Rates
		tokens   tokenvault.TokenStore
		auditLog audit.Log
	)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect error: %v", err)
		}
		defer pool.Close()
		if err := pingDB(ctx, pool); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		orders = store.NewPostgres(pool)
		rates = shipping.NewPostgresRates(pool)
		tokens = tokenvault.NewPostgresStore(pool)
		auditLog = audit.NewPostgres(pool)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory backends")
		orders = store.NewMemory()
		rates = defaultRates()
		fs, err := tokenvault.NewFileStore(cfg.TokenStorePath)
		if err != nil {
			log.Fatalf("token store error: %v", err)
		}
		tokens = fs
		auditLog = audit.NewMemory()
	}

	mp := mercadopago.NewClient(mercadopago.Config{
		APIBaseURL:   cfg.MPAPIBaseURL,
		TokenURL:     cfg.MPTokenURL,
		AuthURL:      cfg.MPAuthURL,
		ClientID:     cfg.MPClientID,
		ClientSecret: cfg.MPClientSecret,
		RedirectURI:  cfg.MPRedirectURI,
		Timeout:      cfg.MPTimeout,
	})
	vault := tokenvault.New(tokens, mp)

	var notifier notify.Notifier = &notify.LogNotifier{Service: "order-service"}
	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		kn := notify.NewKafkaNotifier(kc, cfg.NotifyTopic, "order-service")
		defer kn.Close()
		notifier = kn
	}

	carts := cart.NewRegistry()
	engine := lifecycle.NewEngine(orders, carts, rates, vault, mp, notifier, auditLog, cfg.WebhookBaseURL)
	reconciler := webhook.NewReconciler(vault, mp, engine, notifier, auditLog, webhook.NewDedup(cfg.WebhookDedupSize))

	srv := &server{
		engine:     engine,
		carts:      carts,
		vault:      vault,
		mp:         mp,
		reconciler: reconciler,
		metrics:    metrics.NewServerMetrics("order_service"),
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("order-service listening on :%s (db=%v, kafka=%v)", cfg.Port, cfg.DatabaseURL != "", kc.Enabled())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func pingDB(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
