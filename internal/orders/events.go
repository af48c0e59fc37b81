package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventOrderUpdated      = "OrderUpdated"
	EventOrderDeleted      = "OrderDeleted"
	EventStockInconsistent = "StockInconsistent"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Event is what the services hand to a Publisher; the transport wraps it in an Envelope.
type Event struct {
	Type       string
	OrderID    string
	OccurredAt time.Time
	Payload    any
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID string           `json:"order_id"`
	UserID  string           `json:"user_id"`
	Status  Status           `json:"status"`
	Items   []OrderedProduct `json:"items"`
}

type OrderUpdatedPayload struct {
	OrderID    string           `json:"order_id"`
	Transition Transition       `json:"transition"`
	Status     Status           `json:"status"`
	Items      []OrderedProduct `json:"items"`
	Deltas     []ItemQty        `json:"deltas,omitempty"` // stock consumed (>0) or released (<0)
}

type OrderDeletedPayload struct {
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	Restored []ItemQty `json:"restored"`
}

// StockWrite is one product whose quantity may now be wrong.
type StockWrite struct {
	ProductID string `json:"product_id"`
	Expected  int    `json:"expected"`
	Written   int    `json:"written"`
}

type StockInconsistentPayload struct {
	Op       string       `json:"op"`
	OrderID  string       `json:"order_id,omitempty"`
	Writes   []StockWrite `json:"writes"`
	Reason   string       `json:"reason"`
	Detected time.Time    `json:"detected"`
}
