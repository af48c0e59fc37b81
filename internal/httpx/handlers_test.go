package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-product-orders/internal/orders"
)

var testSecret = []byte("test-secret")

type stubOrders struct {
	create func(orders.CreateCommand) (orders.CreateResult, error)
	update func(orders.UpdateCommand) (orders.Result, error)
	delete func(id, requester string) (orders.Result, error)
	get    func(id string) (orders.ProductOrder, error)
	list   func(orders.ListQuery) (orders.Page, error)
}

func (s *stubOrders) CreateOrder(_ context.Context, cmd orders.CreateCommand) (orders.CreateResult, error) {
	return s.create(cmd)
}

func (s *stubOrders) UpdateOrder(_ context.Context, cmd orders.UpdateCommand) (orders.Result, error) {
	return s.update(cmd)
}

func (s *stubOrders) DeleteOrder(_ context.Context, id, requester string) (orders.Result, error) {
	return s.delete(id, requester)
}

func (s *stubOrders) GetOrder(_ context.Context, id string) (orders.ProductOrder, error) {
	return s.get(id)
}

func (s *stubOrders) ListOrders(_ context.Context, q orders.ListQuery) (orders.Page, error) {
	return s.list(q)
}

type stubCatalog struct {
	products map[string]orders.Product
}

func (s *stubCatalog) CreateProduct(_ context.Context, in orders.ProductInput) (orders.Product, error) {
	for _, p := range s.products {
		if p.Name == in.Name {
			return orders.Product{}, &orders.Error{Kind: orders.KindConflict, Message: "product already exists"}
		}
	}
	p := orders.Product{ID: "new", Name: in.Name, Price: in.Price, Quantity: in.Quantity}
	s.products[p.ID] = p
	return p, nil
}

func (s *stubCatalog) ListProducts(context.Context) ([]orders.Product, error) {
	out := []orders.Product{}
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubCatalog) GetProduct(_ context.Context, id string) (orders.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, &orders.Error{Kind: orders.KindNotFound, Message: "product doesn't exist"}
	}
	return p, nil
}

func (s *stubCatalog) UpdateProduct(_ context.Context, id string, patch orders.ProductPatch) (orders.Product, error) {
	p, err := s.GetProduct(context.Background(), id)
	if err != nil {
		return p, err
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	return p, nil
}

func newServer(svc OrderService, cat CatalogService) *httptest.Server {
	auth := Authenticator(testSecret)
	r := NewRouter(nil)
	(&OrdersHandler{Service: svc, Auth: auth}).Register(r)
	(&ProductsHandler{Catalog: cat, Auth: auth}).Register(r)
	return httptest.NewServer(r)
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := SignToken(testSecret, sub, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *httptest.Server, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHeartbeatAndNotFound(t *testing.T) {
	srv := newServer(&stubOrders{}, &stubCatalog{})
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/api", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The server is working.", body["message"])
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	code, body = do(t, srv, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "404 Not Found.", body["message"])
	assert.Equal(t, "error", body["status"])
}

func TestOrdersRequireToken(t *testing.T) {
	srv := newServer(&stubOrders{}, &stubCatalog{})
	defer srv.Close()

	code, _ := do(t, srv, http.MethodGet, "/api/product-orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/product-orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrderHandler(t *testing.T) {
	var got orders.CreateCommand
	svc := &stubOrders{create: func(cmd orders.CreateCommand) (orders.CreateResult, error) {
		got = cmd
		return orders.CreateResult{Order: orders.ProductOrder{ID: "o1", UserID: cmd.RequesterID, Status: cmd.Status}}, nil
	}}
	srv := newServer(svc, &stubCatalog{})
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/api/product-orders", "u1",
		`{"status":"pending","products":[{"productId":"P1","quantity":2}]}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Product order o1 has been created.", body["message"])
	assert.Equal(t, "u1", got.RequesterID)
	assert.Equal(t, []orders.ItemInput{{ProductID: "P1", Quantity: 2}}, got.Products)

	for _, bad := range []string{
		`{"status":"done","products":[{"productId":"P1","quantity":2}]}`,
		`{"status":"pending","products":[]}`,
		`{"status":"pending","products":[{"quantity":2}]}`,
		`{"status":"pending","products":[{"productId":"P1","quantity":-1}]}`,
		`{"status":"pending","products":[{"productId":"P1","quantity":2}],"extra":true}`,
		`not json`,
	} {
		code, body := do(t, srv, http.MethodPost, "/api/product-orders", "u1", bad)
		assert.Equal(t, http.StatusBadRequest, code, bad)
		assert.Equal(t, "invalid_request", body["error"], bad)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := map[orders.Kind]int{
		orders.KindInvalidRequest:           http.StatusBadRequest,
		orders.KindNotFound:                 http.StatusNotFound,
		orders.KindUnauthorized:             http.StatusForbidden,
		orders.KindOrderLocked:              http.StatusConflict,
		orders.KindInsufficientStock:        http.StatusConflict,
		orders.KindInvalidOperation:         http.StatusUnprocessableEntity,
		orders.KindConflict:                 http.StatusConflict,
		orders.KindPersistenceInconsistency: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		svc := &stubOrders{update: func(orders.UpdateCommand) (orders.Result, error) {
			return orders.Result{}, &orders.Error{Op: "orders.update", Kind: kind, Message: "nope"}
		}}
		srv := newServer(svc, &stubCatalog{})
		code, body := do(t, srv, http.MethodPatch, "/api/product-orders/o1", "u1", `{"status":"approved"}`)
		srv.Close()

		assert.Equal(t, want, code, kind)
		assert.Equal(t, "nope", body["message"])
		assert.Equal(t, string(kind), body["error"])
	}
}

func TestUpdateAndDeleteHandlers(t *testing.T) {
	var upd orders.UpdateCommand
	var delID, delUser string
	svc := &stubOrders{
		update: func(cmd orders.UpdateCommand) (orders.Result, error) {
			upd = cmd
			return orders.Result{Message: "Product order has been updated."}, nil
		},
		delete: func(id, requester string) (orders.Result, error) {
			delID, delUser = id, requester
			return orders.Result{Message: "Product order has been deleted."}, nil
		},
	}
	srv := newServer(svc, &stubCatalog{})
	defer srv.Close()

	code, body := do(t, srv, http.MethodPatch, "/api/product-orders/o9", "u1",
		`{"action":"modify","products":[{"productId":"P1","quantity":0}]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Product order has been updated.", body["message"])
	assert.Equal(t, "o9", upd.OrderID)
	assert.Equal(t, "u1", upd.RequesterID)
	assert.Equal(t, orders.TransitionModify, upd.Action)
	assert.Equal(t, 0, upd.Products[0].Quantity)

	code, _ = do(t, srv, http.MethodPatch, "/api/product-orders/o9", "u1", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodDelete, "/api/product-orders/o9", "u2", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "o9", delID)
	assert.Equal(t, "u2", delUser)
}

func TestListHandlers(t *testing.T) {
	var queries []orders.ListQuery
	svc := &stubOrders{list: func(q orders.ListQuery) (orders.Page, error) {
		queries = append(queries, q)
		return orders.Page{Orders: []orders.ProductOrder{}, Count: 12, Limit: 5, Page: 2}, nil
	}}
	srv := newServer(svc, &stubCatalog{})
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/api/product-orders?page=2&limit=5&userId=u7", "u1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 12, body["count"])
	assert.EqualValues(t, 5, body["limit"])
	assert.EqualValues(t, 2, body["page"])
	assert.Equal(t, []any{}, body["productOrders"])

	code, _ = do(t, srv, http.MethodGet, "/api/product-orders/mine", "u1", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/product-orders?page=two", "u1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	require.Len(t, queries, 2)
	assert.Equal(t, orders.ListQuery{UserID: "u7", Page: 2, Limit: 5}, queries[0])
	assert.Equal(t, orders.ListQuery{UserID: "u1"}, queries[1])
}

func TestGetOrderHandler(t *testing.T) {
	svc := &stubOrders{get: func(id string) (orders.ProductOrder, error) {
		if id != "o1" {
			return orders.ProductOrder{}, &orders.Error{Kind: orders.KindNotFound, Message: "product order not found"}
		}
		return orders.ProductOrder{ID: "o1", UserID: "u1", Status: orders.StatusPending}, nil
	}}
	srv := newServer(svc, &stubCatalog{})
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/api/product-orders/o1", "u2", "")
	assert.Equal(t, http.StatusOK, code)
	order := body["productOrder"].(map[string]any)
	assert.Equal(t, "pending", order["status"])

	code, body = do(t, srv, http.MethodGet, "/api/product-orders/o2", "u2", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "product order not found", body["message"])
}

func TestProductsHandler(t *testing.T) {
	cat := &stubCatalog{products: map[string]orders.Product{
		"P1": {ID: "P1", Name: "Lamp", Price: decimal.RequireFromString("9.5"), Quantity: 3},
	}}
	srv := newServer(&stubOrders{}, cat)
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/api/products", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, body = do(t, srv, http.MethodGet, "/api/products/P1", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "9.5", body["product"].(map[string]any)["price"])

	code, body = do(t, srv, http.MethodGet, "/api/products/P9", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "product doesn't exist", body["message"])

	code, _ = do(t, srv, http.MethodPost, "/api/products", "", `{"name":"Desk","price":"10","quantity":1}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, srv, http.MethodPost, "/api/products", "admin", `{"name":"Desk","price":"10","quantity":1}`)
	assert.Equal(t, http.StatusCreated, code)

	code, body = do(t, srv, http.MethodPost, "/api/products", "admin", `{"name":"Lamp","price":"1","quantity":1}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "product already exists", body["message"])

	code, body = do(t, srv, http.MethodPatch, "/api/products/P1", "admin", `{"price":"12.25"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "12.25", body["product"].(map[string]any)["price"])
}

func TestParseBearer(t *testing.T) {
	sub, err := parseBearer("Bearer "+token(t, "u1"), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	_, err = parseBearer("Bearer "+token(t, "u1"), []byte("other"))
	assert.Error(t, err)

	_, err = parseBearer("Basic abc", testSecret)
	assert.Error(t, err)

	expired, err := SignToken(testSecret, "u1", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)
	_, err = parseBearer("Bearer "+expired, testSecret)
	assert.Error(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = parseBearer("Bearer "+noSub, testSecret)
	assert.Error(t, err)
}
