package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Repo implements ProductStore and OrderStore on postgres. Order line items live in a
// jsonb column on product_orders.
type Repo struct{ DB *pgxpool.Pool }

const productColumns = `id, name, description, price::text, quantity, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Quantity, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}

func (r *Repo) FindProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProductQuantity is a compare-and-set: the row only changes while quantity still
// holds the value the caller read.
func (r *Repo) UpdateProductQuantity(ctx context.Context, id string, expected, next int) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET quantity = $3
		WHERE id = $1 AND quantity = $2`, id, expected, next)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products(id, name, description, price, quantity, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Quantity, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, newError("orders.repo", KindConflict, "product already exists", err)
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repo) FindProductByName(ctx context.Context, name string) (*Product, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE name = $1`, name)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProductDetails never touches quantity.
func (r *Repo) UpdateProductDetails(ctx context.Context, p Product) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET name = $2, description = $3, price = $4::numeric
		WHERE id = $1`, p.ID, p.Name, p.Description, p.Price.String())
	if err != nil {
		if isUniqueViolation(err) {
			return false, newError("orders.repo", KindConflict, "product already exists", err)
		}
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

const orderColumns = `id, user_id, products, status, created_at, version`

func scanOrder(row rowScanner) (ProductOrder, error) {
	var (
		o      ProductOrder
		lines  []byte
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &lines, &status, &o.CreatedAt, &o.Version); err != nil {
		return ProductOrder{}, err
	}
	if err := json.Unmarshal(lines, &o.Products); err != nil {
		return ProductOrder{}, fmt.Errorf("order %s products: %w", o.ID, err)
	}
	o.Status = Status(status)
	return o, nil
}

func (r *Repo) FindOrder(ctx context.Context, id string) (*ProductOrder, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM product_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) InsertOrder(ctx context.Context, o ProductOrder) (ProductOrder, error) {
	lines, err := json.Marshal(o.Products)
	if err != nil {
		return ProductOrder{}, err
	}
	if o.Version < 1 {
		o.Version = 1
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO product_orders(id, user_id, products, status, created_at, version)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
		o.ID, o.UserID, string(lines), string(o.Status), o.CreatedAt, o.Version)
	if isUniqueViolation(err) {
		return ProductOrder{}, newError("orders.repo", KindConflict, "product order already exists", err)
	}
	if err != nil {
		return ProductOrder{}, err
	}
	return o, nil
}

// UpdateOrder is a compare-and-set on version; a stale or missing row writes nothing.
func (r *Repo) UpdateOrder(ctx context.Context, o ProductOrder) (ProductOrder, bool, error) {
	lines, err := json.Marshal(o.Products)
	if err != nil {
		return ProductOrder{}, false, err
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE product_orders
		SET products = $3::jsonb, status = $4, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, string(lines), string(o.Status))
	if err != nil {
		return ProductOrder{}, false, err
	}
	if ct.RowsAffected() != 1 {
		return ProductOrder{}, false, nil
	}
	o.Version++
	return o, true, nil
}

func (r *Repo) DeleteOrder(ctx context.Context, id string, version int) (int64, error) {
	ct, err := r.DB.Exec(ctx, `DELETE FROM product_orders WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM product_orders
		WHERE ($1 = '' OR user_id = $1)`, f.UserID).Scan(&n)
	return n, err
}

func (r *Repo) FindOrders(ctx context.Context, f OrderFilter, limit, page int) ([]ProductOrder, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM product_orders
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, f.UserID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
