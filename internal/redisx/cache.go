package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-product-orders/internal/orders"
)

// OrderCache stores single orders as json under order:{id}.
type OrderCache struct {
	RDB redis.Cmdable
}

func (c *OrderCache) GetOrder(ctx context.Context, id string) (*orders.ProductOrder, error) {
	b, err := c.RDB.Get(ctx, OrderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o orders.ProductOrder
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("decode cached order %s: %w", id, err)
	}
	return &o, nil
}

func (c *OrderCache) SetOrder(ctx context.Context, o orders.ProductOrder, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, OrderKey(o.ID), b, ttl).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, id string) error {
	return c.RDB.Del(ctx, OrderKey(id)).Err()
}
