package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Quantity is the live stock and only moves through the Ledger.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// OrderedProduct is a line item. Name and Price are a snapshot taken when the line was
// built; Quantity is a live hold on the referenced product's stock.
type OrderedProduct struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type ProductOrder struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Products  []OrderedProduct `json:"products"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	// Version increments on every stored change; updates and deletes are conditional on it.
	Version int `json:"version"`
}

// ItemInput is a caller supplied {productId, quantity} pair.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (o *ProductOrder) lineIndex(productID string) int {
	for i, p := range o.Products {
		if p.ProductID == productID {
			return i
		}
	}
	return -1
}

func (o ProductOrder) clone() ProductOrder {
	o.Products = append([]OrderedProduct(nil), o.Products...)
	return o
}
