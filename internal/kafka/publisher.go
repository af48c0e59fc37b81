package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-product-orders/internal/orders"
)

type producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// EventPublisher wraps domain events in an envelope and routes them to their topic,
// keyed by order id.
type EventPublisher struct {
	Producer producer
	Service  string
	NewID    func() string
	TraceID  func(ctx context.Context) string
}

func (p *EventPublisher) Publish(ctx context.Context, ev orders.Event) error {
	topic, ok := orders.TopicFor(ev.Type)
	if !ok {
		return fmt.Errorf("kafka: no topic for event %q", ev.Type)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("kafka: encode %s payload: %w", ev.Type, err)
	}

	env := orders.Envelope{
		EventID:       p.newID(),
		EventType:     ev.Type,
		EventVersion:  envelopeVersion,
		OccurredAt:    ev.OccurredAt.UTC(),
		Producer:      p.Service,
		CorrelationID: ev.OrderID,
		Payload:       payload,
	}
	if p.TraceID != nil {
		env.TraceID = p.TraceID(ctx)
	}

	value, headers, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, topic, orders.PartitionKey(ev.OrderID), value, headers...)
}

func (p *EventPublisher) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}
