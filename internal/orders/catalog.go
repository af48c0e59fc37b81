package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
}

// ProductPatch edits catalog details. Stock is not editable here.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

type Catalog struct {
	Products ProductStore
	Clock    func() time.Time
	NewID    func() string
}

func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	const op = "catalog.create"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Product{}, newError(op, KindInvalidRequest, "name is required", nil)
	}
	if in.Price.IsNegative() {
		return Product{}, newError(op, KindInvalidRequest, "price cannot be negative", nil)
	}
	if in.Quantity < 0 {
		return Product{}, newError(op, KindInvalidRequest, "quantity cannot be negative", nil)
	}

	if err := c.ensureNameFree(ctx, op, name, ""); err != nil {
		return Product{}, err
	}

	p := Product{
		ID:          c.newID(),
		Name:        name,
		Description: in.Description,
		Price:       in.Price,
		Quantity:    in.Quantity,
		CreatedAt:   c.now(),
	}
	created, err := c.Products.CreateProduct(ctx, p)
	if err != nil {
		if KindOf(err) != "" {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

func (c *Catalog) ListProducts(ctx context.Context) ([]Product, error) {
	ps, err := c.Products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog.list: %w", err)
	}
	if ps == nil {
		ps = []Product{}
	}
	return ps, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (Product, error) {
	const op = "catalog.get"
	ps, err := c.Products.FindProductsByIDs(ctx, []string{id})
	if err != nil {
		return Product{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(ps) == 0 {
		return Product{}, newError(op, KindNotFound, "product doesn't exist", nil)
	}
	return ps[0], nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	const op = "catalog.update"

	p, err := c.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Product{}, newError(op, KindInvalidRequest, "name cannot be empty", nil)
		}
		if name != p.Name {
			if err := c.ensureNameFree(ctx, op, name, p.ID); err != nil {
				return Product{}, err
			}
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return Product{}, newError(op, KindInvalidRequest, "price cannot be negative", nil)
		}
		p.Price = *patch.Price
	}

	ok, err := c.Products.UpdateProductDetails(ctx, p)
	if err != nil {
		if KindOf(err) != "" {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return Product{}, newError(op, KindNotFound, "product doesn't exist", nil)
	}
	return p, nil
}

func (c *Catalog) ensureNameFree(ctx context.Context, op, name, selfID string) error {
	existing, err := c.Products.FindProductByName(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: find by name: %w", op, err)
	}
	if existing != nil && existing.ID != selfID {
		return newError(op, KindConflict, "product already exists", nil)
	}
	return nil
}

func (c *Catalog) now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

func (c *Catalog) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}
