package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-product-orders/internal/logging"
)

type Mode int

const (
	ModeDecrement Mode = iota
	ModeIncrement
	ModeSet
)

func (m Mode) String() string {
	switch m {
	case ModeDecrement:
		return "decrement"
	case ModeIncrement:
		return "increment"
	case ModeSet:
		return "set"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

const ledgerParallelism = 8

// Ledger applies quantity changes to catalog stock, one conditional point update per
// product. A batch either lands completely or is written back; when the write-back
// itself fails the batch is reported as a persistence inconsistency.
type Ledger struct {
	Products ProductStore
	Events   Publisher
	Now      func() time.Time
}

// Apply computes the new quantity of each item against its snapshot entry and writes
// them. Items with a negative quantity under ModeDecrement release stock.
//
// When some writes are not acknowledged the applied ones are written back first. If
// that succeeds the stock is untouched and Apply returns KindConflict, which callers may
// retry. If the write-back fails Apply returns KindPersistenceInconsistency (see Revert).
func (l *Ledger) Apply(ctx context.Context, orderID string, items []ItemQty, stock []Product, mode Mode) ([]StockWrite, error) {
	const op = "orders.ledger"
	if len(items) == 0 {
		return nil, nil
	}

	writes, err := planWrites(op, items, stock, mode)
	if err != nil {
		return nil, err
	}

	acked := make([]bool, len(writes))
	errs := make([]error, len(writes))
	var g errgroup.Group
	g.SetLimit(ledgerParallelism)
	for i, w := range writes {
		g.Go(func() error {
			ok, err := l.Products.UpdateProductQuantity(ctx, w.ProductID, w.Expected, w.Written)
			acked[i] = ok && err == nil
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var applied []StockWrite
	for i, ok := range acked {
		if ok {
			applied = append(applied, writes[i])
		}
	}
	if len(applied) == len(writes) {
		return writes, nil
	}

	if err := l.Revert(ctx, op, orderID, applied); err != nil {
		return nil, err
	}
	if cause := errors.Join(errs...); cause != nil {
		return nil, fmt.Errorf("%s: update stock: %w", op, cause)
	}
	return nil, newError(op, KindConflict, "stock changed concurrently, retry the request", nil)
}

// Revert writes each applied change back to its expected value. Anything that cannot
// be written back is logged, published and returned as a persistence inconsistency.
func (l *Ledger) Revert(ctx context.Context, op, orderID string, applied []StockWrite) error {
	if len(applied) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var stranded []StockWrite
	var causes []error
	for _, w := range applied {
		ok, err := l.Products.UpdateProductQuantity(ctx, w.ProductID, w.Written, w.Expected)
		if err != nil || !ok {
			stranded = append(stranded, w)
			causes = append(causes, err)
		}
	}
	if len(stranded) == 0 {
		return nil
	}

	ids := make([]string, len(stranded))
	for i, w := range stranded {
		ids[i] = w.ProductID
	}
	logging.FromContext(ctx).Error("stock left inconsistent",
		zap.String("op", op),
		zap.String("order_id", orderID),
		zap.Strings("product_ids", ids),
		zap.Error(errors.Join(causes...)),
	)

	if l.Events != nil {
		now := l.now()
		ev := Event{
			Type:       EventStockInconsistent,
			OrderID:    orderID,
			OccurredAt: now,
			Payload: StockInconsistentPayload{
				Op:       op,
				OrderID:  orderID,
				Writes:   stranded,
				Reason:   "compensation failed",
				Detected: now,
			},
		}
		if err := l.Events.Publish(ctx, ev); err != nil {
			logging.FromContext(ctx).Warn("publish stock inconsistency", zap.Error(err))
		}
	}

	return newError(op, KindPersistenceInconsistency,
		"stock for products "+strings.Join(ids, ",")+" needs manual reconciliation", errors.Join(causes...))
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func planWrites(op string, items []ItemQty, stock []Product, mode Mode) ([]StockWrite, error) {
	byID := indexProducts(stock)
	writes := make([]StockWrite, 0, len(items))
	for _, it := range items {
		snap, ok := byID[it.ProductID]
		if !ok {
			return nil, newError(op, KindNotFound, "product id not found", fmt.Errorf("product %s", it.ProductID))
		}
		var n int
		switch mode {
		case ModeDecrement:
			n = snap.Quantity - it.Qty
		case ModeIncrement:
			n = snap.Quantity + it.Qty
		case ModeSet:
			n = it.Qty
		default:
			return nil, fmt.Errorf("%s: unknown mode %s", op, mode)
		}
		if n < 0 {
			return nil, newError(op, KindInsufficientStock, "insufficient stock for product "+it.ProductID, nil)
		}
		writes = append(writes, StockWrite{ProductID: it.ProductID, Expected: snap.Quantity, Written: n})
	}
	return writes, nil
}

func quantities(lines []OrderedProduct) []ItemQty {
	out := make([]ItemQty, len(lines))
	for i, l := range lines {
		out[i] = ItemQty{ProductID: l.ProductID, Qty: l.Quantity}
	}
	return out
}
