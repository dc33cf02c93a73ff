package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatusAliases = map[OrderStatus][]string{
	OrderStatusProcessing: {"processing", "pending", "accepted", "confirmed"},
	OrderStatusShipped:    {"shipped", "in_progress", "in-progress"},
	OrderStatusCompleted:  {"completed", "complete", "delivered"},
	OrderStatusCancelled:  {"cancelled", "canceled", "cancel"},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusCompleted, OrderStatusCancelled},
}

// ParseOrderStatus maps any accepted spelling onto the canonical status.
// It is only called where data enters the system.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for status, aliases := range orderStatusAliases {
		for _, alias := range aliases {
			if s == alias {
				return status, nil
			}
		}
	}
	return "", &ValidationError{Field: "status", Reason: "unknown order status " + strconv.Quote(raw)}
}

// Aliases returns every spelling that legacy rows may carry for s.
func (s OrderStatus) Aliases() []string {
	return append([]string(nil), orderStatusAliases[s]...)
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CustomerSnapshot is the buyer's contact data as it was when the order was
// placed. Later account edits never touch it.
type CustomerSnapshot struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type OrderLine struct {
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
}

func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id,omitempty"`
	Total         decimal.Decimal  `json:"total"`
	Status        OrderStatus      `json:"status"`
	Customer      CustomerSnapshot `json:"customer"`
	CustomerEmail string           `json:"customer_email"`
	Lines         []OrderLine      `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Subtotal is the pre-tax, pre-shipping basis of the order total.
func (o Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

func (o Order) IsArchived() bool {
	return o.Status.IsTerminal()
}

// StockRequests collapses the order lines into one request per product.
func (o Order) StockRequests() []StockRequest {
	return MergeStockRequests(linesToRequests(o.Lines))
}

func linesToRequests(lines []OrderLine) []StockRequest {
	reqs := make([]StockRequest, 0, len(lines))
	for _, l := range lines {
		reqs = append(reqs, StockRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return reqs
}

type OrderFilter struct {
	Statuses      []OrderStatus
	CustomerEmail string
	// Archived narrows to terminal (true) or active (false) orders when set.
	Archived *bool
}

func (f OrderFilter) Match(o Order) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == o.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CustomerEmail != "" && !strings.EqualFold(f.CustomerEmail, o.CustomerEmail) {
		return false
	}
	if f.Archived != nil && *f.Archived != o.IsArchived() {
		return false
	}
	return true
}
