package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// MemoryStore keeps products, orders and inquiries in process. Every method
// takes the same lock, so stock updates are serialized.
type MemoryStore struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	orders    map[string]domain.Order
	lines     map[string][]domain.OrderLine
	inquiries map[string]domain.Inquiry
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		lines:     make(map[string][]domain.OrderLine),
		inquiries: make(map[string]domain.Inquiry),
		now:       time.Now,
	}
}

// PutProduct inserts or replaces a product, deriving its status.
func (m *MemoryStore) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Status = domain.DeriveStatus(p.Stock, p.MinStock)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.UpdatedAt = m.now()
	m.products[p.ID] = p
}

func (m *MemoryStore) PutInquiry(inq domain.Inquiry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inquiries[inq.ID] = inq
}

func (m *MemoryStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, domain.NotFound("product", productID)
	}
	return &p, nil
}

func (m *MemoryStore) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	m.writeStock(p, p.Stock-quantity)
	return true, nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, domain.NotFound("product", productID)
	}
	m.writeStock(p, max(0, p.Stock-quantity))
	return m.products[productID].Stock, nil
}

func (m *MemoryStore) RestoreStock(ctx context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return domain.NotFound("product", productID)
	}
	m.writeStock(p, p.Stock+quantity)
	return nil
}

func (m *MemoryStore) SetStock(ctx context.Context, productID string, stock, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return domain.NotFound("product", productID)
	}
	if p.Version != version {
		return domain.ErrConcurrentUpdate
	}
	m.writeStock(p, stock)
	return nil
}

func (m *MemoryStore) ResetStock(ctx context.Context, productID string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return domain.NotFound("product", productID)
	}
	m.writeStock(p, stock)
	return nil
}

func (m *MemoryStore) ListProductIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// writeStock must be called with mu held.
func (m *MemoryStore) writeStock(p domain.Product, stock int) {
	p.Stock = stock
	p.Status = domain.DeriveStatus(stock, p.MinStock)
	p.Version++
	p.UpdatedAt = m.now()
	m.products[p.ID] = p
}

func (m *MemoryStore) InsertOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order.Lines = nil
	m.orders[order.ID] = order
	return nil
}

func (m *MemoryStore) InsertOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return domain.NotFound("order", orderID)
	}
	for _, l := range lines {
		l.OrderID = orderID
		l.ProductName = ""
		m.lines[orderID] = append(m.lines[orderID], l)
	}
	return nil
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return domain.NotFound("order", orderID)
	}
	delete(m.lines, orderID)
	delete(m.orders, orderID)
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.NotFound("order", orderID)
	}
	o.Lines = m.joinLines(orderID)
	return &o, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]domain.Order, 0)
	for id, o := range m.orders {
		if !filter.Match(o) {
			continue
		}
		o.Lines = m.joinLines(id)
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// OrderLineCount reports how many line rows exist for orderID.
func (m *MemoryStore) OrderLineCount(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines[orderID])
}

func (m *MemoryStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// joinLines must be called with mu held.
func (m *MemoryStore) joinLines(orderID string) []domain.OrderLine {
	stored := m.lines[orderID]
	lines := make([]domain.OrderLine, 0, len(stored))
	for _, l := range stored {
		if p, ok := m.products[l.ProductID]; ok {
			l.ProductName = p.Name
		}
		lines = append(lines, l)
	}
	return lines
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return domain.NotFound("order", orderID)
	}
	if o.Status != from {
		return domain.ErrConcurrentUpdate
	}
	o.Status = to
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) GetInquiry(ctx context.Context, inquiryID string) (*domain.Inquiry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inq, ok := m.inquiries[inquiryID]
	if !ok {
		return nil, domain.NotFound("inquiry", inquiryID)
	}
	return &inq, nil
}

func (m *MemoryStore) UpdateInquiryStatus(ctx context.Context, inquiryID string, from, to domain.InquiryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inq, ok := m.inquiries[inquiryID]
	if !ok {
		return domain.NotFound("inquiry", inquiryID)
	}
	if !strings.EqualFold(string(inq.Status), string(from)) {
		return domain.ErrConcurrentUpdate
	}
	inq.Status = to
	inq.UpdatedAt = m.now()
	m.inquiries[inquiryID] = inq
	return nil
}
