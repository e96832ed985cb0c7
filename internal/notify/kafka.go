package notify

import (
	"context"
	"time"

	segkafka "github.com/segmentio/kafka-go"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
	"github.com/CaraccioloSergio/directToVet/pkg/kafka"
	"github.com/CaraccioloSergio/directToVet/pkg/logging"
)

// KafkaNotifier publishes notification messages to a topic consumed by the
// chat/email delivery workers. Publishing is best-effort with a bounded
// timeout.
type KafkaNotifier struct {
	writer  *segkafka.Writer
	service string
}

func NewKafkaNotifier(client *kafka.Client, topic, service string) *KafkaNotifier {
	return &KafkaNotifier{writer: client.NewWriter(topic), service: service}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) OrderCreated(ctx context.Context, o *domain.Order) {
	n.publish(ctx, newMessage(EventOrderCreated, o, orderCreatedPayload(o)))
}

func (n *KafkaNotifier) OrderCancelled(ctx context.Context, o *domain.Order) {
	n.publish(ctx, newMessage(EventOrderCancelled, o, orderCancelledPayload(o)))
}

func (n *KafkaNotifier) PaymentApproved(ctx context.Context, o *domain.Order, paymentID string) {
	n.publish(ctx, newMessage(EventPaymentApproved, o, paymentApprovedPayload(o, paymentID)))
}

func (n *KafkaNotifier) publish(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := kafka.PublishJSON(ctx, n.writer, msg.OrderID, msg); err != nil {
		logging.Log(logging.Fields{
			Service: n.service,
			VetID:   msg.VetID,
			OrderID: msg.OrderID,
			EventID: msg.EventID,
			Step:    msg.Type,
			Status:  "publish_error",
			Message: err.Error(),
		})
		return
	}
	logging.Log(logging.Fields{
		Service: n.service,
		VetID:   msg.VetID,
		OrderID: msg.OrderID,
		EventID: msg.EventID,
		Step:    msg.Type,
		Status:  "emitted",
	})
}
