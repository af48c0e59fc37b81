package orders

import (
	"context"
	"time"
)

// ProductStore is the catalog side of persistence.
type ProductStore interface {
	// FindProductsByIDs returns the products that exist; unknown ids are omitted.
	FindProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	// UpdateProductQuantity sets quantity to next only while it still equals expected.
	// The bool is the acknowledgement.
	UpdateProductQuantity(ctx context.Context, id string, expected, next int) (bool, error)

	CreateProduct(ctx context.Context, p Product) (Product, error)
	FindProductByName(ctx context.Context, name string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProductDetails(ctx context.Context, p Product) (bool, error)
}

type OrderFilter struct {
	UserID string
}

type OrderStore interface {
	// FindOrder returns nil, nil when the order does not exist.
	FindOrder(ctx context.Context, id string) (*ProductOrder, error)
	InsertOrder(ctx context.Context, o ProductOrder) (ProductOrder, error)
	// UpdateOrder replaces line items and status only while the stored version still
	// equals o.Version. The bool reports whether the row was written.
	UpdateOrder(ctx context.Context, o ProductOrder) (ProductOrder, bool, error)
	// DeleteOrder removes the order only while it is still at version.
	DeleteOrder(ctx context.Context, id string, version int) (int64, error)
	CountOrders(ctx context.Context, f OrderFilter) (int, error)
	// FindOrders returns one page, newest first.
	FindOrders(ctx context.Context, f OrderFilter, limit, page int) ([]ProductOrder, error)
}

// Cache is a read-through cache for single orders. Misses return nil, nil.
type Cache interface {
	GetOrder(ctx context.Context, id string) (*ProductOrder, error)
	SetOrder(ctx context.Context, o ProductOrder, ttl time.Duration) error
	Invalidate(ctx context.Context, id string) error
}

// Idempotency remembers which order a create request key produced.
type Idempotency interface {
	// Reserve claims key for orderID; when the key was already claimed it returns
	// the order id stored under it and false.
	Reserve(ctx context.Context, key, orderID string) (existing string, ok bool, err error)
	Release(ctx context.Context, key string) error
}

// Publisher emits domain events; failures never fail the request.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
