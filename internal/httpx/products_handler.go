package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-product-orders/internal/orders"
)

type CatalogService interface {
	CreateProduct(ctx context.Context, in orders.ProductInput) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	UpdateProduct(ctx context.Context, id string, patch orders.ProductPatch) (orders.Product, error)
}

type ProductsHandler struct {
	Catalog CatalogService
	Auth    func(http.Handler) http.Handler
}

type createProductReq struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
}

type updateProductReq struct {
	Name        *string          `json:"name" validate:"omitempty,min=1"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Group(func(r chi.Router) {
			if h.Auth != nil {
				r.Use(h.Auth)
			}
			r.Post("/", h.createProduct)
			r.Patch("/{id}", h.updateProduct)
		})
	})
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Products retrieved.", map[string]any{"products": ps, "count": len(ps)})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Catalog.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Product retrieved.", map[string]any{"product": p})
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Catalog.CreateProduct(ctx, orders.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Product "+p.Name+" has been created.", map[string]any{"product": p})
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductReq
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Catalog.UpdateProduct(ctx, chi.URLParam(r, "id"), orders.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Product has been updated.", map[string]any{"product": p})
}
