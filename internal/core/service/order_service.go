package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/port"
)

const rollbackTimeout = 10 * time.Second

type LineItem struct {
	ProductID string          `json:"id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrderRequest struct {
	UserID         string
	IdempotencyKey string
	Customer       domain.CustomerSnapshot
	Items          []LineItem
	Total          decimal.Decimal
}

func (r CreateOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "order must contain at least one item"}
	}
	for _, item := range r.Items {
		if err := validateStockRequest(domain.StockRequest{ProductID: item.ProductID, Quantity: item.Quantity}); err != nil {
			return err
		}
		if item.Price.IsNegative() {
			return &domain.ValidationError{Field: "price", Reason: "must not be negative for product " + item.ProductID}
		}
	}
	if r.Total.IsNegative() {
		return &domain.ValidationError{Field: "total", Reason: "must not be negative"}
	}
	if strings.TrimSpace(r.Customer.Email) == "" {
		return &domain.ValidationError{Field: "customer.email", Reason: "is required"}
	}
	if strings.TrimSpace(r.Customer.Name) == "" {
		return &domain.ValidationError{Field: "customer.name", Reason: "is required"}
	}
	return nil
}

type Option func(*OrderService)

func WithNotifier(n Notifier) Option {
	return func(s *OrderService) { s.notifier = n }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idempotency = store }
}

func WithPayments(provider port.PaymentLinkProvider, currency string) Option {
	return func(s *OrderService) {
		s.payments = provider
		s.currency = currency
	}
}

// WithRestockOnCancel controls whether cancelling an order gives its units
// back to the ledger.
func WithRestockOnCancel(enabled bool) Option {
	return func(s *OrderService) { s.restockOnCancel = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// OrderService keeps orders and stock consistent. Stock is taken exactly
// once, when the order is created.
type OrderService struct {
	orders      port.OrderRepository
	ledger      port.StockLedger
	stock       *StockService
	notifier    Notifier
	idempotency port.IdempotencyStore
	payments    port.PaymentLinkProvider
	currency    string

	restockOnCancel bool
	now             func() time.Time
}

func NewOrderService(orders port.OrderRepository, ledger port.StockLedger, opts ...Option) *OrderService {
	s := &OrderService{
		orders:          orders,
		ledger:          ledger,
		stock:           NewStockService(ledger),
		notifier:        nopNotifier{},
		restockOnCancel: true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if s.idempotency == nil || req.IdempotencyKey == "" {
		return s.createOrder(ctx, req)
	}

	key := fmt.Sprintf("checkout:%s:%s", req.UserID, req.IdempotencyKey)
	ok, err := s.idempotency.SetIdempotency(ctx, key)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "idempotency check", Err: err}
	}
	if !ok {
		return nil, domain.ErrDuplicateRequest
	}

	order, err := s.createOrder(ctx, req)
	if err != nil {
		if releaseErr := s.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("key", key).Msg("failed to release idempotency key")
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	requests := make([]domain.StockRequest, 0, len(req.Items))
	for _, item := range req.Items {
		requests = append(requests, domain.StockRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.stock.CheckAvailability(ctx, requests); err != nil {
		return nil, err
	}

	now := s.now()
	order := domain.Order{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Total:         req.Total,
		Status:        domain.OrderStatusProcessing,
		Customer:      req.Customer,
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Customer.Email = order.CustomerEmail
	for _, item := range req.Items {
		order.Lines = append(order.Lines, domain.OrderLine{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	if err := s.orders.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := s.orders.InsertOrderLines(ctx, order.ID, order.Lines); err != nil {
		return nil, s.rollback(ctx, order, nil, fmt.Errorf("insert order lines: %w", err))
	}

	reserved := make([]domain.StockRequest, 0, len(order.Lines))
	for _, line := range order.Lines {
		ok, err := s.ledger.ReserveStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, s.rollback(ctx, order, reserved, fmt.Errorf("reserve stock for %s: %w", line.ProductID, err))
		}
		if !ok {
			return nil, s.rollback(ctx, order, reserved, s.lostReservation(ctx, line))
		}
		reserved = append(reserved, domain.StockRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	log.Info().Str("orderId", order.ID).Int("lines", len(order.Lines)).Str("total", order.Total.String()).Msg("order created")
	return &order, nil
}

// lostReservation builds the shortage for a line that passed the availability
// check but lost the conditional decrement to a concurrent checkout.
func (s *OrderService) lostReservation(ctx context.Context, line domain.OrderLine) error {
	shortage := domain.Shortage{ProductID: line.ProductID, Requested: line.Quantity}
	if p, err := s.ledger.GetProduct(ctx, line.ProductID); err == nil {
		shortage.ProductName = p.Name
		shortage.Available = p.Stock
	}
	return &domain.InsufficientStockError{Shortages: []domain.Shortage{shortage}}
}

// rollback undoes a partially created order. The caller always gets cause
// back; compensation failures are logged next to it.
func (s *OrderService) rollback(ctx context.Context, order domain.Order, reserved []domain.StockRequest, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for _, r := range reserved {
		if err := s.ledger.RestoreStock(ctx, r.ProductID, r.Quantity); err != nil {
			log.Error().Err(err).AnErr("cause", cause).Str("orderId", order.ID).Str("productId", r.ProductID).
				Msg("CRITICAL: stock restore failed during order rollback")
		}
	}

	if err := s.orders.DeleteOrder(ctx, order.ID); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("orderId", order.ID).Msg("CRITICAL: order rollback failed")
		s.archiveOrphan(ctx, order.ID, cause)
		return cause
	}

	log.Warn().Err(cause).Str("orderId", order.ID).Int("restored", len(reserved)).Msg("order rolled back")
	return cause
}

// archiveOrphan cancels an order whose header survived a failed rollback.
// Its stock was already given back, so the write skips restock; a later
// cancel is then a no-op instead of restocking units never held.
func (s *OrderService) archiveOrphan(ctx context.Context, orderID string, cause error) {
	if err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusProcessing, domain.OrderStatusCancelled); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("orderId", orderID).Msg("CRITICAL: orphan order left in processing")
		return
	}
	log.Warn().Err(cause).Str("orderId", orderID).Msg("orphan order cancelled without restock")
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx, filter)
}

// UpdateStatus moves an order along its state machine. Stock is only touched
// when the order is cancelled and restocking is enabled.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, next)
}

// CompleteOrder is idempotent: a completed order is returned as is.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCompleted {
		return order, nil
	}

	completed, err := s.transition(ctx, order, domain.OrderStatusCompleted)
	if errors.Is(err, domain.ErrConcurrentUpdate) {
		// Another caller may have completed it first.
		current, getErr := s.orders.GetOrder(ctx, orderID)
		if getErr == nil && current.Status == domain.OrderStatusCompleted {
			return current, nil
		}
	}
	return completed, err
}

// DeleteOrder removes an archived order for good.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.IsArchived() {
		return &domain.TransitionError{From: string(order.Status), To: "deleted"}
	}
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	log.Info().Str("orderId", orderID).Msg("order deleted")
	return nil
}

func (s *OrderService) transition(ctx context.Context, order *domain.Order, next domain.OrderStatus) (*domain.Order, error) {
	prev := order.Status
	if prev == next {
		return order, nil
	}
	if !prev.CanTransitionTo(next) {
		return nil, &domain.TransitionError{From: string(prev), To: string(next)}
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, prev, next); err != nil {
		return nil, fmt.Errorf("update order %s status: %w", order.ID, err)
	}
	order.Status = next
	order.UpdatedAt = s.now()

	if next == domain.OrderStatusCancelled && s.restockOnCancel {
		s.restock(ctx, order)
	}

	s.notifier.Publish(domain.StatusEvent{
		Kind:      domain.EventKindOrder,
		ID:        order.ID,
		UserID:    order.UserID,
		OldStatus: string(prev),
		NewStatus: string(next),
		Timestamp: order.UpdatedAt,
	})

	log.Info().Str("orderId", order.ID).Str("from", string(prev)).Str("to", string(next)).Msg("order status changed")
	return order, nil
}

// restock runs after the cancel is committed; only the caller that won the
// conditional status write gets here, so units come back once.
func (s *OrderService) restock(ctx context.Context, order *domain.Order) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range order.StockRequests() {
		if err := s.ledger.RestoreStock(ctx, r.ProductID, r.Quantity); err != nil {
			log.Error().Err(err).Str("orderId", order.ID).Str("productId", r.ProductID).Int("quantity", r.Quantity).
				Msg("restock after cancellation failed")
		}
	}
}

func (s *OrderService) CreatePaymentLink(ctx context.Context, orderID string) (string, error) {
	if s.payments == nil {
		return "", &domain.UpstreamError{Op: "create payment link", Err: errors.New("payment provider not configured")}
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != domain.OrderStatusProcessing {
		return "", &domain.TransitionError{From: string(order.Status), To: "paid"}
	}

	amount := order.Total.Shift(2).Round(0).IntPart()
	if amount <= 0 {
		return "", &domain.ValidationError{Field: "total", Reason: "must be positive to take a payment"}
	}

	url, err := s.payments.CreatePaymentLink(ctx, domain.PaymentLinkRequest{
		Amount:      amount,
		Currency:    s.currency,
		Description: "Order " + order.ID,
		Metadata: map[string]string{
			"orderId":       order.ID,
			"customerEmail": order.CustomerEmail,
			"customerName":  order.Customer.Name,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create payment link for order %s: %w", order.ID, err)
	}
	return url, nil
}
