package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-product-orders/internal/logging"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	defaultCacheTTL  = 5 * time.Minute
)

// ServiceDeps bundles the collaborators of a Service. Cache, Idempotency and Events
// are optional.
type ServiceDeps struct {
	Products    ProductStore
	Orders      OrderStore
	Cache       Cache
	Idempotency Idempotency
	Events      Publisher
	Clock       func() time.Time
	NewID       func() string
	PageLimit   int
	CacheTTL    time.Duration
}

type Service struct {
	products  ProductStore
	orders    OrderStore
	cache     Cache
	idem      Idempotency
	events    Publisher
	clock     func() time.Time
	newID     func() string
	pageLimit int
	cacheTTL  time.Duration

	builder *Builder
	ledger  *Ledger
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Products == nil {
		return nil, errors.New("orders service: product store is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("orders service: order store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	limit := deps.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	s := &Service{
		products:  deps.Products,
		orders:    deps.Orders,
		cache:     deps.Cache,
		idem:      deps.Idempotency,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     newID,
		pageLimit: min(limit, maxPageLimit),
		cacheTTL:  ttl,
		builder:   &Builder{Products: deps.Products},
	}
	s.ledger = &Ledger{Products: deps.Products, Events: deps.Events, Now: s.clock}
	return s, nil
}

type CreateCommand struct {
	RequesterID    string
	Status         Status
	Products       []ItemInput
	IdempotencyKey string
}

type CreateResult struct {
	Order    ProductOrder
	Replayed bool
}

type UpdateCommand struct {
	OrderID     string
	RequesterID string
	Status      Status     // empty when absent
	Action      Transition // add, remove or modify; empty when absent
	Products    []ItemInput
}

type Result struct {
	Message string
}

// CreateOrder reserves stock for the requested products and stores a new order.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateCommand) (CreateResult, error) {
	const op = "orders.create"
	if cmd.RequesterID == "" {
		return CreateResult{}, newError(op, KindUnauthorized, "requester is required", nil)
	}
	if !cmd.Status.Valid() {
		return CreateResult{}, newError(op, KindInvalidRequest, "status must be pending or approved", nil)
	}
	if len(cmd.Products) == 0 {
		return CreateResult{}, newError(op, KindInvalidRequest, "at least one product is required", nil)
	}
	if err := requirePositive(op, cmd.Products); err != nil {
		return CreateResult{}, err
	}

	orderID := s.newID()
	idemKey := ""
	if cmd.IdempotencyKey != "" && s.idem != nil {
		idemKey = cmd.RequesterID + ":" + cmd.IdempotencyKey
	}
	if idemKey != "" {
		existing, ok, err := s.idem.Reserve(ctx, idemKey, orderID)
		switch {
		case err != nil:
			logging.FromContext(ctx).Warn("idempotency reserve failed", zap.Error(err))
			idemKey = ""
		case !ok:
			o, err := s.GetOrder(ctx, existing)
			if errors.Is(err, ErrNotFound) {
				// the first request holds the key but has not stored its order yet
				return CreateResult{}, newError(op, KindConflict, "a request with this idempotency key is still in progress", nil)
			}
			if err != nil {
				return CreateResult{}, err
			}
			return CreateResult{Order: o, Replayed: true}, nil
		}
	}

	order, err := s.createOrder(ctx, op, orderID, cmd)
	if err != nil {
		if idemKey != "" {
			if rerr := s.idem.Release(context.WithoutCancel(ctx), idemKey); rerr != nil {
				logging.FromContext(ctx).Warn("idempotency release failed", zap.Error(rerr))
			}
		}
		return CreateResult{}, err
	}

	s.publish(ctx, Event{
		Type:       EventOrderCreated,
		OrderID:    order.ID,
		OccurredAt: order.CreatedAt,
		Payload:    OrderCreatedPayload{OrderID: order.ID, UserID: order.UserID, Status: order.Status, Items: order.Products},
	})
	return CreateResult{Order: order}, nil
}

func (s *Service) createOrder(ctx context.Context, op, orderID string, cmd CreateCommand) (ProductOrder, error) {
	b, err := s.builder.Build(ctx, cmd.Products, BuildOptions{CheckStock: true})
	if err != nil {
		return ProductOrder{}, err
	}
	writes, err := s.ledger.Apply(ctx, orderID, quantities(b.Items), b.Stock, ModeDecrement)
	if err != nil {
		return ProductOrder{}, err
	}

	order := ProductOrder{
		ID:        orderID,
		UserID:    cmd.RequesterID,
		Products:  b.Items,
		Status:    cmd.Status,
		CreatedAt: s.clock(),
		Version:   1,
	}
	saved, err := s.orders.InsertOrder(ctx, order)
	if err != nil {
		if rerr := s.ledger.Revert(ctx, op, orderID, writes); rerr != nil {
			return ProductOrder{}, rerr
		}
		return ProductOrder{}, fmt.Errorf("%s: save order: %w", op, err)
	}
	return saved, nil
}

// UpdateOrder applies either a status change or one content action to an order.
func (s *Service) UpdateOrder(ctx context.Context, cmd UpdateCommand) (Result, error) {
	const op = "orders.update"

	order, err := s.loadOwned(ctx, op, cmd.OrderID, cmd.RequesterID)
	if err != nil {
		return Result{}, err
	}

	hasStatus := cmd.Status != ""
	hasAction := cmd.Action != ""
	hasProducts := len(cmd.Products) > 0
	switch {
	case hasStatus && !hasAction && !hasProducts:
		return s.changeStatus(ctx, op, order, cmd.Status)
	case !hasStatus && hasAction && hasProducts:
		return s.applyAction(ctx, op, order, cmd.Action, cmd.Products)
	default:
		return Result{}, newError(op, KindInvalidRequest, "provide either status, or action together with products", nil)
	}
}

func (s *Service) changeStatus(ctx context.Context, op string, order ProductOrder, target Status) (Result, error) {
	switch target {
	case StatusApproved:
		to, err := next(op, order.Status, TransitionApprove)
		if err != nil {
			return Result{}, err
		}
		order.Status = to
		if err := s.commit(ctx, op, order, TransitionApprove, nil, nil); err != nil {
			return Result{}, err
		}
		return Result{Message: "Product order has been approved."}, nil
	case StatusPending:
		if order.Status != StatusPending {
			return Result{}, newError(op, KindOrderLocked, lockedMessage(order.Status, TransitionModify), nil)
		}
		return Result{Message: "Product order is already pending."}, nil
	default:
		return Result{}, newError(op, KindInvalidRequest, "status must be pending or approved", nil)
	}
}

func (s *Service) applyAction(ctx context.Context, op string, order ProductOrder, action Transition, in []ItemInput) (Result, error) {
	switch action {
	case TransitionAdd, TransitionRemove, TransitionModify:
	default:
		return Result{}, newError(op, KindInvalidRequest, "action must be add, remove or modify", nil)
	}
	if _, err := next(op, order.Status, action); err != nil {
		return Result{}, err
	}

	b, err := s.builder.Build(ctx, in, BuildOptions{})
	if err != nil {
		return Result{}, err
	}

	var (
		updated ProductOrder
		deltas  []ItemQty
		writes  []StockWrite
	)
	switch action {
	case TransitionRemove:
		updated, deltas, writes, err = s.removeItems(ctx, op, order, b)
	case TransitionAdd:
		updated, deltas, writes, err = s.addItems(ctx, op, order, b)
	case TransitionModify:
		updated, deltas, writes, err = s.modifyItems(ctx, op, order, b)
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.commit(ctx, op, updated, action, deltas, writes); err != nil {
		return Result{}, err
	}
	return Result{Message: "Product order has been updated."}, nil
}

func (s *Service) removeItems(ctx context.Context, op string, order ProductOrder, b Build) (ProductOrder, []ItemQty, []StockWrite, error) {
	if _, missing := compareItems(b.Items, lineIDs(order.Products)); missing {
		return order, nil, nil, newError(op, KindNotFound, "one or more products not found in order", nil)
	}
	if len(b.Items) == len(order.Products) {
		return order, nil, nil, newError(op, KindInvalidOperation, "order cannot be empty", nil)
	}

	restore := make([]ItemQty, len(b.Items))
	released := make([]ItemQty, len(b.Items))
	drop := make(map[string]struct{}, len(b.Items))
	for i, it := range b.Items {
		qty := order.Products[order.lineIndex(it.ProductID)].Quantity
		restore[i] = ItemQty{ProductID: it.ProductID, Qty: qty}
		released[i] = ItemQty{ProductID: it.ProductID, Qty: -qty}
		drop[it.ProductID] = struct{}{}
	}

	writes, err := s.ledger.Apply(ctx, order.ID, restore, b.Stock, ModeIncrement)
	if err != nil {
		return order, nil, nil, err
	}

	updated := order.clone()
	kept := updated.Products[:0]
	for _, line := range updated.Products {
		if _, gone := drop[line.ProductID]; !gone {
			kept = append(kept, line)
		}
	}
	updated.Products = kept
	return updated, released, writes, nil
}

func (s *Service) addItems(ctx context.Context, op string, order ProductOrder, b Build) (ProductOrder, []ItemQty, []StockWrite, error) {
	for _, it := range b.Items {
		if order.lineIndex(it.ProductID) >= 0 {
			return order, nil, nil, newError(op, KindInvalidOperation,
				"product "+it.ProductID+" already in order, use modify instead", nil)
		}
		if it.Quantity <= 0 {
			return order, nil, nil, newError(op, KindInvalidRequest, "quantity must be positive", nil)
		}
	}
	if err := checkStock(op, b.Items, b.Stock); err != nil {
		return order, nil, nil, err
	}

	consumed := quantities(b.Items)
	writes, err := s.ledger.Apply(ctx, order.ID, consumed, b.Stock, ModeDecrement)
	if err != nil {
		return order, nil, nil, err
	}

	updated := order.clone()
	updated.Products = append(updated.Products, b.Items...)
	return updated, consumed, writes, nil
}

func (s *Service) modifyItems(ctx context.Context, op string, order ProductOrder, b Build) (ProductOrder, []ItemQty, []StockWrite, error) {
	if _, missing := compareItems(b.Items, lineIDs(order.Products)); missing {
		return order, nil, nil, newError(op, KindNotFound, "one or more products not found in order", nil)
	}

	stock := indexProducts(b.Stock)
	var deltas []ItemQty
	for _, it := range b.Items {
		if it.Quantity == 0 {
			return order, nil, nil, newError(op, KindInvalidOperation, "quantity cannot be zero, remove instead", nil)
		}
		if it.Quantity < 0 {
			return order, nil, nil, newError(op, KindInvalidRequest, "quantity must be positive", nil)
		}
		delta := it.Quantity - order.Products[order.lineIndex(it.ProductID)].Quantity
		if delta > stock[it.ProductID].Quantity {
			return order, nil, nil, newError(op, KindInsufficientStock, "insufficient stock for product "+it.ProductID, nil)
		}
		if delta != 0 {
			deltas = append(deltas, ItemQty{ProductID: it.ProductID, Qty: delta})
		}
	}

	writes, err := s.ledger.Apply(ctx, order.ID, deltas, b.Stock, ModeDecrement)
	if err != nil {
		return order, nil, nil, err
	}

	updated := order.clone()
	for _, it := range b.Items {
		updated.Products[updated.lineIndex(it.ProductID)].Quantity = it.Quantity
	}
	return updated, deltas, writes, nil
}

func requirePositive(op string, in []ItemInput) error {
	for _, it := range in {
		if it.ProductID == "" {
			return newError(op, KindInvalidRequest, "productId is required", nil)
		}
		if it.Quantity <= 0 {
			return newError(op, KindInvalidRequest, "quantity must be positive", nil)
		}
	}
	return nil
}

// commit persists the order after its stock writes resolved. The write is conditional
// on the version the order was loaded at; a failed or stale save writes the stock back.
func (s *Service) commit(ctx context.Context, op string, order ProductOrder, t Transition, deltas []ItemQty, writes []StockWrite) error {
	saved, ok, err := s.orders.UpdateOrder(ctx, order)
	if err == nil && !ok {
		err = s.staleOrder(ctx, op, order.ID)
	}
	if err != nil {
		if rerr := s.ledger.Revert(ctx, op, order.ID, writes); rerr != nil {
			return rerr
		}
		if KindOf(err) != "" {
			return err
		}
		return fmt.Errorf("%s: save order: %w", op, err)
	}
	s.invalidate(ctx, saved.ID)
	s.publish(ctx, Event{
		Type:       EventOrderUpdated,
		OrderID:    saved.ID,
		OccurredAt: s.clock(),
		Payload: OrderUpdatedPayload{
			OrderID:    saved.ID,
			Transition: t,
			Status:     saved.Status,
			Items:      saved.Products,
			Deltas:     deltas,
		},
	})
	return nil
}

// loadOwned reads the order straight from the store and enforces ownership.
func (s *Service) loadOwned(ctx context.Context, op, orderID, requesterID string) (ProductOrder, error) {
	o, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return ProductOrder{}, fmt.Errorf("%s: find order: %w", op, err)
	}
	if o == nil {
		return ProductOrder{}, newError(op, KindNotFound, "product order not found", nil)
	}
	if o.UserID != requesterID {
		return ProductOrder{}, newError(op, KindUnauthorized, "access denied, order belongs to another user", nil)
	}
	return *o, nil
}

// staleOrder explains a conditional write that matched no row: the order is either
// gone or was changed by another request since it was loaded.
func (s *Service) staleOrder(ctx context.Context, op, orderID string) error {
	o, err := s.orders.FindOrder(context.WithoutCancel(ctx), orderID)
	if err == nil && o == nil {
		return newError(op, KindNotFound, "product order not found", nil)
	}
	return newError(op, KindConflict, "product order changed concurrently, retry the request", err)
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		logging.FromContext(ctx).Warn("order cache invalidate failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("event publish failed", zap.String("event", ev.Type), zap.Error(err))
	}
}
