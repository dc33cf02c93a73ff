package port

import (
	"context"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// StockLedger is the only writer of product stock.
type StockLedger interface {
	// GetProduct returns domain.ErrNotFound when the product does not exist
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ReserveStock atomically decreases stock only if enough is left, returns false otherwise
	ReserveStock(ctx context.Context, productID string, quantity int) (bool, error)

	// DecrementStock decreases stock, flooring at zero, and returns the new stock
	DecrementStock(ctx context.Context, productID string, quantity int) (int, error)

	// RestoreStock gives units back (rollback, cancellation)
	RestoreStock(ctx context.Context, productID string, quantity int) error

	// SetStock overwrites stock with a version check for optimistic locking
	SetStock(ctx context.Context, productID string, stock, version int) error

	// ResetStock overwrites stock unconditionally (admin bulk reset)
	ResetStock(ctx context.Context, productID string, stock int) error

	ListProductIDs(ctx context.Context) ([]string, error)
}

type OrderRepository interface {
	// InsertOrder persists the order header including the customer snapshot
	InsertOrder(ctx context.Context, order domain.Order) error

	InsertOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine) error

	// DeleteOrder removes line items before the header
	DeleteOrder(ctx context.Context, orderID string) error

	// GetOrder returns the order with its lines annotated with current product names
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	// UpdateOrderStatus writes to only if the stored status is still from,
	// returning domain.ErrConcurrentUpdate when it is not
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error
}

type InquiryRepository interface {
	GetInquiry(ctx context.Context, inquiryID string) (*domain.Inquiry, error)

	UpdateInquiryStatus(ctx context.Context, inquiryID string, from, to domain.InquiryStatus) error
}
