package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-product-orders/internal/orders"
)

type OrderService interface {
	CreateOrder(ctx context.Context, cmd orders.CreateCommand) (orders.CreateResult, error)
	UpdateOrder(ctx context.Context, cmd orders.UpdateCommand) (orders.Result, error)
	DeleteOrder(ctx context.Context, orderID, requesterID string) (orders.Result, error)
	GetOrder(ctx context.Context, id string) (orders.ProductOrder, error)
	ListOrders(ctx context.Context, q orders.ListQuery) (orders.Page, error)
}

type OrdersHandler struct {
	Service OrderService
	Auth    func(http.Handler) http.Handler
}

type itemReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type createOrderReq struct {
	Status   string    `json:"status" validate:"required,oneof=pending approved"`
	Products []itemReq `json:"products" validate:"required,min=1,dive"`
}

type updateOrderReq struct {
	Status   string    `json:"status" validate:"omitempty,oneof=pending approved"`
	Action   string    `json:"action" validate:"omitempty,oneof=add remove modify"`
	Products []itemReq `json:"products" validate:"omitempty,dive"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/product-orders", func(r chi.Router) {
		if h.Auth != nil {
			r.Use(h.Auth)
		}
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/mine", h.listMine)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

func toItems(in []itemReq) []orders.ItemInput {
	out := make([]orders.ItemInput, len(in))
	for i, it := range in {
		out[i] = orders.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.CreateOrder(ctx, orders.CreateCommand{
		RequesterID:    UserID(r.Context()),
		Status:         orders.Status(req.Status),
		Products:       toItems(req.Products),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	respond(w, code, "Product order "+res.Order.ID+" has been created.", map[string]any{
		"productOrder": res.Order,
		"idempotent":   res.Replayed,
	})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("userId"))
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, UserID(r.Context()))
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request, userID string) {
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Service.ListOrders(ctx, orders.ListQuery{UserID: userID, Page: page, Limit: limit})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Product orders retrieved.", map[string]any{
		"productOrders": p.Orders,
		"count":         p.Count,
		"limit":         p.Limit,
		"page":          p.Page,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Product order retrieved.", map[string]any{"productOrder": o})
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderReq
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.UpdateOrder(ctx, orders.UpdateCommand{
		OrderID:     chi.URLParam(r, "id"),
		RequesterID: UserID(r.Context()),
		Status:      orders.Status(req.Status),
		Action:      orders.Transition(req.Action),
		Products:    toItems(req.Products),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res.Message, nil)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.DeleteOrder(ctx, chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res.Message, nil)
}

// queryInt returns 0 for an absent parameter so the service applies its default.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &orders.Error{Op: "httpx.query", Kind: orders.KindInvalidRequest, Message: key + " must be a number", Err: err}
	}
	return n, nil
}
