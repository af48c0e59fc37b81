package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-product-orders/internal/kafka"
	"github.com/ariefcatur/go-product-orders/internal/orders"
	"github.com/ariefcatur/go-product-orders/internal/redisx"
)

// Incident is one stock inconsistency awaiting manual reconciliation.
type Incident struct {
	EventID    string
	Op         string
	OrderID    string
	Writes     []orders.StockWrite
	Reason     string
	DetectedAt time.Time
}

type IncidentStore interface {
	// RecordIncident reports false when the event was already recorded.
	RecordIncident(ctx context.Context, in Incident) (bool, error)
}

type ProductReader interface {
	FindProductsByIDs(ctx context.Context, ids []string) ([]orders.Product, error)
}

// Service consumes stock inconsistency events and files them as incidents.
type Service struct {
	Incidents   IncidentStore
	Products    ProductReader // optional; enables the drift report
	Redis       redis.Cmdable // optional dedup fast path
	ServiceName string
	Log         *zap.Logger
}

func (s *Service) HandleStockInconsistent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message; retrying will not help
		s.log().Error("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventStockInconsistent {
		return nil
	}

	dkey := redisx.DedupKey(s.ServiceName, env.EventID)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.StockInconsistentPayload](env.Payload)
	if err != nil {
		s.log().Error("drop undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	in := Incident{
		EventID:    env.EventID,
		Op:         p.Op,
		OrderID:    p.OrderID,
		Writes:     p.Writes,
		Reason:     p.Reason,
		DetectedAt: p.Detected,
	}
	inserted, err := s.Incidents.RecordIncident(ctx, in)
	if err != nil {
		return fmt.Errorf("record incident %s: %w", env.EventID, err)
	}

	if s.Redis != nil {
		_, _ = redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
	}
	if !inserted {
		return nil
	}

	log := s.log().With(
		zap.String("event_id", env.EventID),
		zap.String("op", p.Op),
		zap.String("order_id", p.OrderID),
		zap.String("trace_id", env.TraceID),
	)
	log.Error("stock incident recorded", zap.Int("products", len(p.Writes)))
	s.reportDrift(ctx, log, p.Writes)
	return nil
}

// reportDrift logs, per product, whether the quantity still holds the stranded value.
func (s *Service) reportDrift(ctx context.Context, log *zap.Logger, writes []orders.StockWrite) {
	if s.Products == nil || len(writes) == 0 {
		return
	}
	ids := make([]string, len(writes))
	for i, w := range writes {
		ids[i] = w.ProductID
	}
	ps, err := s.Products.FindProductsByIDs(ctx, ids)
	if err != nil {
		log.Warn("drift check failed", zap.Error(err))
		return
	}
	current := make(map[string]int, len(ps))
	for _, p := range ps {
		current[p.ID] = p.Quantity
	}
	for _, w := range writes {
		q, ok := current[w.ProductID]
		log.Warn("stock drift",
			zap.String("product_id", w.ProductID),
			zap.Int("expected", w.Expected),
			zap.Int("written", w.Written),
			zap.Int("current", q),
			zap.Bool("product_exists", ok),
			zap.Bool("still_stranded", ok && q == w.Written),
		)
	}
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
