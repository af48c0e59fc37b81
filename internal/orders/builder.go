package orders

import (
	"context"
	"fmt"
)

type BuildOptions struct {
	CheckStock bool
}

// Build is a normalized line-item list plus the stock snapshot it was checked against.
type Build struct {
	Items []OrderedProduct
	Stock []Product
}

type Builder struct {
	Products ProductStore
}

// Build dedups the request, loads the referenced products, copies name/price into the
// line items and, when asked, checks stock sufficiency.
func (b *Builder) Build(ctx context.Context, in []ItemInput, opts BuildOptions) (Build, error) {
	const op = "orders.build"

	items := dedupItems(in)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	stock, err := b.Products.FindProductsByIDs(ctx, ids)
	if err != nil {
		return Build{}, fmt.Errorf("%s: find products: %w", op, err)
	}

	lines := make([]OrderedProduct, len(items))
	for i, it := range items {
		lines[i] = OrderedProduct{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	if id, missing := compareItems(lines, productIDs(stock)); missing {
		return Build{}, newError(op, KindNotFound, "product id not found", fmt.Errorf("product %s", id))
	}
	copyAttributes(lines, stock)

	if opts.CheckStock {
		if err := checkStock(op, lines, stock); err != nil {
			return Build{}, err
		}
	}
	return Build{Items: lines, Stock: stock}, nil
}

// dedupItems collapses repeated product ids. The last quantity wins; the slot of the
// first occurrence is kept so output order follows the request.
func dedupItems(in []ItemInput) []ItemInput {
	pos := make(map[string]int, len(in))
	out := make([]ItemInput, 0, len(in))
	for _, it := range in {
		if i, ok := pos[it.ProductID]; ok {
			out[i] = it
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// compareItems reports the first item whose product id is not in present.
func compareItems(items []OrderedProduct, present map[string]struct{}) (string, bool) {
	for _, it := range items {
		if _, ok := present[it.ProductID]; !ok {
			return it.ProductID, true
		}
	}
	return "", false
}

func copyAttributes(items []OrderedProduct, stock []Product) {
	byID := indexProducts(stock)
	for i := range items {
		p := byID[items[i].ProductID]
		items[i].Name = p.Name
		items[i].Price = p.Price
	}
}

func checkStock(op string, items []OrderedProduct, stock []Product) error {
	byID := indexProducts(stock)
	for _, it := range items {
		if it.Quantity > byID[it.ProductID].Quantity {
			return newError(op, KindInsufficientStock, "insufficient stock for product "+it.ProductID, nil)
		}
	}
	return nil
}

func productIDs(ps []Product) map[string]struct{} {
	out := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		out[p.ID] = struct{}{}
	}
	return out
}

func lineIDs(ls []OrderedProduct) map[string]struct{} {
	out := make(map[string]struct{}, len(ls))
	for _, l := range ls {
		out[l.ProductID] = struct{}{}
	}
	return out
}

func indexProducts(ps []Product) map[string]Product {
	out := make(map[string]Product, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out
}
