package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var errBoom = errors.New("boom")

type memProducts struct {
	mu    sync.Mutex
	items map[string]Product

	// failUpdate makes UpdateProductQuantity error for a product.
	failUpdate map[string]error
	// rejectFrom makes the n-th and later update of a product unacknowledged.
	rejectFrom map[string]int
	updates    map[string]int
	findErr    error
}

func newMemProducts(ps ...Product) *memProducts {
	m := &memProducts{
		items:      map[string]Product{},
		failUpdate: map[string]error{},
		rejectFrom: map[string]int{},
		updates:    map[string]int{},
	}
	for _, p := range ps {
		m.items[p.ID] = p
	}
	return m
}

func (m *memProducts) qty(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Quantity
}

func (m *memProducts) FindProductsByIDs(_ context.Context, ids []string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Product
	for _, id := range ids {
		if p, ok := m.items[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) UpdateProductQuantity(_ context.Context, id string, expected, next int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id]++
	if err := m.failUpdate[id]; err != nil {
		return false, err
	}
	if n, ok := m.rejectFrom[id]; ok && m.updates[id] >= n {
		return false, nil
	}
	p, ok := m.items[id]
	if !ok || p.Quantity != expected {
		return false, nil
	}
	p.Quantity = next
	m.items[id] = p
	return true, nil
}

func (m *memProducts) CreateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ID] = p
	return p, nil
}

func (m *memProducts) FindProductByName(_ context.Context, name string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memProducts) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProducts) UpdateProductDetails(_ context.Context, p Product) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[p.ID]
	if !ok {
		return false, nil
	}
	cur.Name, cur.Description, cur.Price = p.Name, p.Description, p.Price
	m.items[p.ID] = cur
	return true, nil
}

type memOrders struct {
	mu        sync.Mutex
	items     map[string]ProductOrder
	saveErr   error
	deleteErr error
}

func newMemOrders() *memOrders { return &memOrders{items: map[string]ProductOrder{}} }

func (m *memOrders) FindOrder(_ context.Context, id string) (*ProductOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	o = o.clone()
	return &o, nil
}

func (m *memOrders) InsertOrder(_ context.Context, o ProductOrder) (ProductOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return ProductOrder{}, m.saveErr
	}
	if _, ok := m.items[o.ID]; ok {
		return ProductOrder{}, newError("mem", KindConflict, "product order already exists", nil)
	}
	m.items[o.ID] = o.clone()
	return o, nil
}

func (m *memOrders) UpdateOrder(_ context.Context, o ProductOrder) (ProductOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return ProductOrder{}, false, m.saveErr
	}
	cur, ok := m.items[o.ID]
	if !ok || cur.Version != o.Version {
		return ProductOrder{}, false, nil
	}
	o.Version++
	m.items[o.ID] = o.clone()
	return o, true, nil
}

func (m *memOrders) DeleteOrder(_ context.Context, id string, version int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	if cur, ok := m.items[id]; !ok || cur.Version != version {
		return 0, nil
	}
	delete(m.items, id)
	return 1, nil
}

func (m *memOrders) filtered(f OrderFilter) []ProductOrder {
	var out []ProductOrder
	for _, o := range m.items {
		if f.UserID == "" || o.UserID == f.UserID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memOrders) CountOrders(_ context.Context, f OrderFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filtered(f)), nil
}

func (m *memOrders) FindOrders(_ context.Context, f OrderFilter, limit, page int) ([]ProductOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filtered(f)
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	return all[start:min(start+limit, len(all))], nil
}

// hookProducts runs beforeFind once, ahead of the next product lookup. It lets a test
// slip another request in between loading an order and committing it.
type hookProducts struct {
	*memProducts
	beforeFind func()
}

func (h *hookProducts) FindProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	if fn := h.beforeFind; fn != nil {
		h.beforeFind = nil
		fn()
	}
	return h.memProducts.FindProductsByIDs(ctx, ids)
}

type memCache struct {
	mu          sync.Mutex
	items       map[string]ProductOrder
	invalidated []string
}

func newMemCache() *memCache { return &memCache{items: map[string]ProductOrder{}} }

func (c *memCache) GetOrder(_ context.Context, id string) (*ProductOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *memCache) SetOrder(_ context.Context, o ProductOrder, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[o.ID] = o
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type memIdem struct {
	mu       sync.Mutex
	keys     map[string]string
	released []string
}

func newMemIdem() *memIdem { return &memIdem{keys: map[string]string{}} }

func (m *memIdem) Reserve(_ context.Context, key, orderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.keys[key]; ok {
		return existing, false, nil
	}
	m.keys[key] = orderID
	return orderID, true, nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

type recPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func product(id string, qty int) Product {
	return Product{
		ID:        id,
		Name:      "product " + id,
		Price:     decimal.RequireFromString("12.50"),
		Quantity:  qty,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	products *memProducts
	hook     *hookProducts
	orders   *memOrders
	cache    *memCache
	idem     *memIdem
	events   *recPublisher
	svc      *Service
}

func newFixture(t *testing.T, ps ...Product) *fixture {
	t.Helper()
	f := &fixture{
		products: newMemProducts(ps...),
		orders:   newMemOrders(),
		cache:    newMemCache(),
		idem:     newMemIdem(),
		events:   &recPublisher{},
	}
	f.hook = &hookProducts{memProducts: f.products}
	seq, ids := 0, 0
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceDeps{
		Products:    f.hook,
		Orders:      f.orders,
		Cache:       f.cache,
		Idempotency: f.idem,
		Events:      f.events,
		Clock: func() time.Time {
			seq++
			return base.Add(time.Duration(seq) * time.Second)
		},
		NewID: func() string {
			ids++
			return fmt.Sprintf("order-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

// seedOrder stores an order as is; stock is left to the caller.
func (f *fixture) seedOrder(o ProductOrder) {
	f.orders.items[o.ID] = o.clone()
}
