package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-product-orders/internal/logging"
)

type ListQuery struct {
	UserID string // empty lists every user's orders
	Page   int
	Limit  int
}

type Page struct {
	Orders []ProductOrder `json:"productOrders"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Page   int            `json:"page"`
}

// ListOrders returns one page of orders, newest first. Count is the total matching the
// filter, not the page length.
func (s *Service) ListOrders(ctx context.Context, q ListQuery) (Page, error) {
	const op = "orders.list"

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = s.pageLimit
	}
	limit = min(limit, maxPageLimit)

	f := OrderFilter{UserID: q.UserID}
	count, err := s.orders.CountOrders(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("%s: count orders: %w", op, err)
	}
	list, err := s.orders.FindOrders(ctx, f, limit, page)
	if err != nil {
		return Page{}, fmt.Errorf("%s: find orders: %w", op, err)
	}
	if list == nil {
		list = []ProductOrder{}
	}
	return Page{Orders: list, Count: count, Limit: limit, Page: page}, nil
}

// GetOrder reads a single order through the cache.
func (s *Service) GetOrder(ctx context.Context, id string) (ProductOrder, error) {
	const op = "orders.get"
	log := logging.FromContext(ctx)

	if s.cache != nil {
		o, err := s.cache.GetOrder(ctx, id)
		if err != nil {
			log.Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
		} else if o != nil {
			return *o, nil
		}
	}

	o, err := s.orders.FindOrder(ctx, id)
	if err != nil {
		return ProductOrder{}, fmt.Errorf("%s: find order: %w", op, err)
	}
	if o == nil {
		return ProductOrder{}, newError(op, KindNotFound, "product order not found", nil)
	}

	if s.cache != nil {
		if err := s.cache.SetOrder(ctx, *o, s.cacheTTL); err != nil {
			log.Warn("order cache write failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	return *o, nil
}

// DeleteOrder returns the order's held quantities to stock and removes it.
func (s *Service) DeleteOrder(ctx context.Context, orderID, requesterID string) (Result, error) {
	const op = "orders.delete"

	order, err := s.loadOwned(ctx, op, orderID, requesterID)
	if err != nil {
		return Result{}, err
	}
	if _, err := next(op, order.Status, TransitionDelete); err != nil {
		return Result{}, err
	}

	in := make([]ItemInput, len(order.Products))
	for i, line := range order.Products {
		in[i] = ItemInput{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	b, err := s.builder.Build(ctx, in, BuildOptions{})
	if err != nil {
		return Result{}, err
	}

	restored := quantities(order.Products)
	writes, err := s.ledger.Apply(ctx, order.ID, restored, b.Stock, ModeIncrement)
	if err != nil {
		return Result{}, err
	}

	n, err := s.orders.DeleteOrder(ctx, order.ID, order.Version)
	if err == nil && n == 0 {
		err = s.staleOrder(ctx, op, order.ID)
	}
	if err != nil {
		if rerr := s.ledger.Revert(ctx, op, order.ID, writes); rerr != nil {
			return Result{}, rerr
		}
		if KindOf(err) != "" {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%s: delete order: %w", op, err)
	}

	s.invalidate(ctx, order.ID)
	s.publish(ctx, Event{
		Type:       EventOrderDeleted,
		OrderID:    order.ID,
		OccurredAt: s.clock(),
		Payload:    OrderDeletedPayload{OrderID: order.ID, UserID: order.UserID, Restored: restored},
	})
	return Result{Message: "Product order has been deleted."}, nil
}
