package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/adapter/storage"
	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// faultyStore fails selected ledger calls on top of the in-memory store.
type faultyStore struct {
	*storage.MemoryStore

	mu          sync.Mutex
	failReserve map[string]bool
	failReset   map[string]bool
	failDelete  bool

	// beforeStatusUpdate runs ahead of every conditional status write.
	beforeStatusUpdate func(orderID string)
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryStore: storage.NewMemoryStore(),
		failReserve: make(map[string]bool),
		failReset:   make(map[string]bool),
	}
}

func (f *faultyStore) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	f.mu.Lock()
	fail := f.failReserve[productID]
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.ReserveStock(ctx, productID, quantity)
}

func (f *faultyStore) ResetStock(ctx context.Context, productID string, stock int) error {
	f.mu.Lock()
	fail := f.failReset[productID]
	f.mu.Unlock()
	if fail {
		return errors.New("row locked")
	}
	return f.MemoryStore.ResetStock(ctx, productID, stock)
}

func (f *faultyStore) DeleteOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errors.New("lock wait timeout exceeded")
	}
	return f.MemoryStore.DeleteOrder(ctx, orderID)
}

func (f *faultyStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	f.mu.Lock()
	hook := f.beforeStatusUpdate
	f.beforeStatusUpdate = nil
	f.mu.Unlock()
	if hook != nil {
		hook(orderID)
	}
	return f.MemoryStore.UpdateOrderStatus(ctx, orderID, from, to)
}

// Mock IdempotencyStore
type mockIdempotency struct {
	keys     map[string]bool
	released []string
	mu       sync.Mutex
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{keys: make(map[string]bool)}
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *recordingNotifier) Publish(event domain.StatusEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recordingNotifier) Events() []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusEvent(nil), r.events...)
}

type fakePayments struct {
	got domain.PaymentLinkRequest
	url string
	err error
}

func (f *fakePayments) CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error) {
	f.got = req
	return f.url, f.err
}

func orderRequest(items ...LineItem) CreateOrderRequest {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return CreateOrderRequest{
		UserID:   "user-1",
		Customer: domain.CustomerSnapshot{Name: "Ana Cruz", Email: "Ana@Example.com", City: "Cebu"},
		Items:    items,
		Total:    total,
	}
}

func item(productID string, quantity int, price int64) LineItem {
	return LineItem{ProductID: productID, Quantity: quantity, Price: decimal.NewFromInt(price)}
}

func stockOf(t *testing.T, store *faultyStore, productID string) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return p.Stock
}

func TestCreateOrder_Success(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store)

	order, err := svc.CreateOrder(context.Background(), orderRequest(item("tetra", 3, 45)))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if got := stockOf(t, store, "tetra"); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing status, got %s", order.Status)
	}
	if order.CustomerEmail != "ana@example.com" {
		t.Errorf("expected normalized email, got %s", order.CustomerEmail)
	}
	if order.Customer.City != "Cebu" {
		t.Errorf("expected snapshot city Cebu, got %s", order.Customer.City)
	}
	if store.OrderLineCount(order.ID) != 1 {
		t.Errorf("expected 1 order line, got %d", store.OrderLineCount(order.ID))
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "betta", Name: "Halfmoon Betta", Stock: 2})
	svc := NewOrderService(store, store)

	_, err := svc.CreateOrder(context.Background(), orderRequest(item("betta", 5, 350)))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"Halfmoon Betta", "available 2", "requested 5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}

	if store.OrderCount() != 0 {
		t.Errorf("expected no orders, got %d", store.OrderCount())
	}
	if got := stockOf(t, store, "betta"); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}
}

func TestCreateOrder_ReportsEveryShortage(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "betta", Name: "Halfmoon Betta", Stock: 1})
	store.PutProduct(domain.Product{ID: "guppy", Name: "Endler Guppy", Stock: 0})
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 10})
	svc := NewOrderService(store, store)

	_, err := svc.CreateOrder(context.Background(), orderRequest(
		item("betta", 2, 350), item("moss", 1, 120), item("guppy", 4, 30),
	))

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if len(stockErr.Shortages) != 2 {
		t.Fatalf("expected 2 shortages, got %d", len(stockErr.Shortages))
	}
	if stockErr.Shortages[0].ProductID != "betta" || stockErr.Shortages[1].ProductID != "guppy" {
		t.Errorf("unexpected shortages: %+v", stockErr.Shortages)
	}
	if got := stockOf(t, store, "moss"); got != 10 {
		t.Errorf("expected moss untouched, got %d", got)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	store := newFaultyStore()
	svc := NewOrderService(store, store)

	cases := map[string]CreateOrderRequest{
		"no items":       orderRequest(),
		"zero quantity":  orderRequest(item("tetra", 0, 45)),
		"negative price": orderRequest(item("tetra", 1, -45)),
		"no email": func() CreateOrderRequest {
			r := orderRequest(item("tetra", 1, 45))
			r.Customer.Email = " "
			return r
		}(),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestCreateOrder_RollsBackOnReserveFailure(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 3})
	store.failReserve["moss"] = true
	svc := NewOrderService(store, store)

	_, err := svc.CreateOrder(context.Background(), orderRequest(item("tetra", 2, 45), item("moss", 1, 120)))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if store.OrderCount() != 0 {
		t.Errorf("expected order header removed, got %d orders", store.OrderCount())
	}
	if got := stockOf(t, store, "tetra"); got != 5 {
		t.Errorf("expected tetra restored to 5, got %d", got)
	}
	if got := stockOf(t, store, "moss"); got != 3 {
		t.Errorf("expected moss untouched, got %d", got)
	}
}

func TestCreateOrder_CancelsOrphanWhenRollbackDeleteFails(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 3})
	store.failReserve["moss"] = true
	store.failDelete = true
	svc := NewOrderService(store, store, WithRestockOnCancel(true))
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 2, 45), item("moss", 1, 120)))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if strings.Contains(err.Error(), "lock wait timeout") {
		t.Errorf("expected the reserve failure, got the delete failure: %v", err)
	}

	if store.OrderCount() != 1 {
		t.Fatalf("expected the orphan header to remain, got %d orders", store.OrderCount())
	}
	orders, err := svc.ListOrders(ctx, domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	orphan := orders[0]
	if orphan.Status != domain.OrderStatusCancelled {
		t.Errorf("expected orphan cancelled, got %s", orphan.Status)
	}
	if got := stockOf(t, store, "tetra"); got != 5 {
		t.Errorf("expected tetra restored to 5, got %d", got)
	}

	// Cancelling again must not hand back units a second time.
	if _, err := svc.UpdateStatus(ctx, orphan.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel orphan: %v", err)
	}
	if got := stockOf(t, store, "tetra"); got != 5 {
		t.Errorf("expected tetra to stay at 5, got %d", got)
	}
	if got := stockOf(t, store, "moss"); got != 3 {
		t.Errorf("expected moss to stay at 3, got %d", got)
	}
}

func TestCreateOrder_ConcurrentLastUnit(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "arowana", Name: "Silver Arowana", Stock: 1})
	svc := NewOrderService(store, store)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), orderRequest(item("arowana", 1, 4500)))
			if err == nil {
				successCount.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("expected ErrInsufficientStock, got: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected 1 success, got %d", successCount.Load())
	}
	if got := stockOf(t, store, "arowana"); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
	if store.OrderCount() != 1 {
		t.Errorf("expected 1 order, got %d", store.OrderCount())
	}
}

func TestCreateOrder_DuplicateRequest(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 10})
	idem := newMockIdempotency()
	svc := NewOrderService(store, store, WithIdempotency(idem))

	req := orderRequest(item("tetra", 1, 45))
	req.IdempotencyKey = "cart-42"

	if _, err := svc.CreateOrder(context.Background(), req); err != nil {
		t.Fatalf("first order failed: %v", err)
	}
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	// Stock should only be decremented once
	if got := stockOf(t, store, "tetra"); got != 9 {
		t.Errorf("expected stock 9, got %d", got)
	}
}

func TestCreateOrder_ReleasesKeyOnFailure(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 1})
	idem := newMockIdempotency()
	svc := NewOrderService(store, store, WithIdempotency(idem))

	req := orderRequest(item("tetra", 2, 45))
	req.IdempotencyKey = "cart-7"

	if _, err := svc.CreateOrder(context.Background(), req); err == nil {
		t.Fatal("expected insufficient stock")
	}
	if len(idem.released) != 1 || idem.released[0] != "checkout:user-1:cart-7" {
		t.Errorf("expected key released, got %v", idem.released)
	}

	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 2})
	if _, err := svc.CreateOrder(context.Background(), req); err != nil {
		t.Errorf("expected retry to succeed, got: %v", err)
	}
}

func TestCompleteOrder_Idempotent(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	notifier := &recordingNotifier{}
	svc := NewOrderService(store, store, WithNotifier(notifier))
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 2, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	for i := 0; i < 2; i++ {
		done, err := svc.CompleteOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("complete #%d: %v", i+1, err)
		}
		if done.Status != domain.OrderStatusCompleted {
			t.Errorf("expected completed, got %s", done.Status)
		}
	}

	if got := stockOf(t, store, "tetra"); got != 3 {
		t.Errorf("expected stock 3 after completion, got %d", got)
	}
	events := notifier.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].OldStatus != "processing" || events[0].NewStatus != "completed" || events[0].UserID != "user-1" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestCompleteOrder_LosesRaceToAnotherCompletion(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 2, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Another admin completes the order between our read and our write.
	store.beforeStatusUpdate = func(orderID string) {
		if err := store.MemoryStore.UpdateOrderStatus(ctx, orderID, domain.OrderStatusProcessing, domain.OrderStatusCompleted); err != nil {
			t.Errorf("racing completion: %v", err)
		}
	}

	done, err := svc.CompleteOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("expected completed order, got: %v", err)
	}
	if done.Status != domain.OrderStatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
}

func TestCompleteOrder_LosesRaceToCancellation(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 2, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	store.beforeStatusUpdate = func(orderID string) {
		if err := store.MemoryStore.UpdateOrderStatus(ctx, orderID, domain.OrderStatusProcessing, domain.OrderStatusCancelled); err != nil {
			t.Errorf("racing cancellation: %v", err)
		}
	}

	if _, err := svc.CompleteOrder(ctx, order.ID); !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Errorf("expected ErrConcurrentUpdate, got: %v", err)
	}
}

func TestUpdateStatus_CancelRestocksOnce(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 3, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped); err != nil {
		t.Fatalf("ship: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}

	if got := stockOf(t, store, "tetra"); got != 5 {
		t.Errorf("expected stock 5, got %d", got)
	}

	_, err = svc.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestUpdateStatus_CancelWithoutRestock(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store, WithRestockOnCancel(false))
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 3, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := stockOf(t, store, "tetra"); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}
}

func TestDeleteOrder_OnlyArchived(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 5})
	svc := NewOrderService(store, store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 1, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := svc.DeleteOrder(ctx, order.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}

	if _, err := svc.CompleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := svc.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetOrder(ctx, order.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	if store.OrderLineCount(order.ID) != 0 {
		t.Errorf("expected lines removed, got %d", store.OrderLineCount(order.ID))
	}
}

func TestListOrders_Filter(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 10})
	svc := NewOrderService(store, store)
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 1, 45)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, orderRequest(item("tetra", 1, 45))); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.CompleteOrder(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	archived := true
	orders, err := svc.ListOrders(ctx, domain.OrderFilter{Archived: &archived, CustomerEmail: "ANA@example.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != first.ID {
		t.Errorf("expected only the completed order, got %+v", orders)
	}
	if len(orders) == 1 && (len(orders[0].Lines) != 1 || orders[0].Lines[0].ProductName != "Neon Tetra") {
		t.Errorf("expected line annotated with product name, got %+v", orders[0].Lines)
	}
}

func TestCreatePaymentLink(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tank", Name: "60L Rimless Tank", Stock: 2})
	payments := &fakePayments{url: "https://pay.example.com/cs_123"}
	svc := NewOrderService(store, store, WithPayments(payments, "PHP"))
	ctx := context.Background()

	req := orderRequest(item("tank", 1, 4500))
	req.Total = decimal.RequireFromString("4550.50")
	order, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	url, err := svc.CreatePaymentLink(ctx, order.ID)
	if err != nil {
		t.Fatalf("payment link: %v", err)
	}
	if url != payments.url {
		t.Errorf("expected %s, got %s", payments.url, url)
	}
	if payments.got.Amount != 455050 || payments.got.Currency != "PHP" {
		t.Errorf("unexpected payment request: %+v", payments.got)
	}
	if payments.got.Metadata["orderId"] != order.ID {
		t.Errorf("expected order id in metadata, got %v", payments.got.Metadata)
	}

	if _, err := svc.CompleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.CreatePaymentLink(ctx, order.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for completed order, got: %v", err)
	}
}

func TestCreatePaymentLink_NotConfigured(t *testing.T) {
	store := newFaultyStore()
	svc := NewOrderService(store, store)

	_, err := svc.CreatePaymentLink(context.Background(), "any")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got: %v", err)
	}
}
