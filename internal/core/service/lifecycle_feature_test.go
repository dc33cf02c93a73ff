package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

type lifecycleTestContext struct {
	store    *faultyStore
	orders   *OrderService
	order    *domain.Order
	err      error
	accepted int
}

func (tc *lifecycleTestContext) reset() {
	tc.store = newFaultyStore()
	tc.orders = NewOrderService(tc.store, tc.store)
	tc.order = nil
	tc.err = nil
	tc.accepted = 0
}

func (tc *lifecycleTestContext) placeOrder(userID, productID string, quantity int) (*domain.Order, error) {
	return tc.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:   userID,
		Customer: domain.CustomerSnapshot{Name: "Buyer " + userID, Email: userID + "@example.com"},
		Items:    []LineItem{{ProductID: productID, Quantity: quantity, Price: decimal.NewFromInt(100)}},
		Total:    decimal.NewFromInt(int64(100 * quantity)),
	})
}

func (tc *lifecycleTestContext) aProductNamedWithInStock(id, name string, stock int) error {
	tc.store.PutProduct(domain.Product{ID: id, Name: name, Stock: stock})
	return nil
}

func (tc *lifecycleTestContext) userOrdersOf(userID string, quantity int, productID string) error {
	tc.order, tc.err = tc.placeOrder(userID, productID, quantity)
	return nil
}

func (tc *lifecycleTestContext) buyersOrderAtTheSameTime(buyers, quantity int, productID string) error {
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tc.placeOrder(fmt.Sprintf("buyer-%d", i), productID, quantity); err == nil {
				mu.Lock()
				tc.accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return nil
}

func (tc *lifecycleTestContext) theOrderIsCompleted() error {
	if tc.order == nil {
		return fmt.Errorf("no order placed: %v", tc.err)
	}
	_, tc.err = tc.orders.CompleteOrder(context.Background(), tc.order.ID)
	return tc.err
}

func (tc *lifecycleTestContext) theOrderIsMovedTo(raw string) error {
	if tc.order == nil {
		return fmt.Errorf("no order placed: %v", tc.err)
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	_, tc.err = tc.orders.UpdateStatus(context.Background(), tc.order.ID, status)
	return nil
}

func (tc *lifecycleTestContext) theOrderIsAcceptedWithStatus(status string) error {
	if tc.err != nil {
		return fmt.Errorf("expected order to be accepted, got %v", tc.err)
	}
	if string(tc.order.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, tc.order.Status)
	}
	return nil
}

func (tc *lifecycleTestContext) theOrderIsRejectedWith(message string) error {
	if tc.err == nil {
		return fmt.Errorf("expected order to be rejected")
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(tc.err, &stockErr) {
		return fmt.Errorf("expected insufficient stock, got %v", tc.err)
	}
	for _, detail := range stockErr.Details() {
		if detail == message {
			return nil
		}
	}
	return fmt.Errorf("expected %q in %v", message, stockErr.Details())
}

func (tc *lifecycleTestContext) theStatusChangeIsRejected() error {
	if tc.err == nil {
		return fmt.Errorf("expected status change to be rejected")
	}
	return nil
}

func (tc *lifecycleTestContext) theOrderHasStatus(status string) error {
	order, err := tc.orders.GetOrder(context.Background(), tc.order.ID)
	if err != nil {
		return err
	}
	if string(order.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, order.Status)
	}
	return nil
}

func (tc *lifecycleTestContext) productHasInStock(productID string, stock int) error {
	p, err := tc.store.GetProduct(context.Background(), productID)
	if err != nil {
		return err
	}
	if p.Stock != stock {
		return fmt.Errorf("expected %s to have %d in stock, got %d", productID, stock, p.Stock)
	}
	return nil
}

func (tc *lifecycleTestContext) noOrdersExist() error {
	if n := tc.store.OrderCount(); n != 0 {
		return fmt.Errorf("expected no orders, got %d", n)
	}
	return nil
}

func (tc *lifecycleTestContext) exactlyOrderIsAccepted(n int) error {
	if tc.accepted != n {
		return fmt.Errorf("expected %d accepted orders, got %d", n, tc.accepted)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &lifecycleTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a product "([^"]*)" named "([^"]*)" with (\d+) in stock$`, tc.aProductNamedWithInStock)

	// When steps
	ctx.Step(`^"([^"]*)" orders (\d+) of "([^"]*)"$`, tc.userOrdersOf)
	ctx.Step(`^(\d+) buyers order (\d+) of "([^"]*)" at the same time$`, tc.buyersOrderAtTheSameTime)
	ctx.Step(`^the order is completed$`, tc.theOrderIsCompleted)
	ctx.Step(`^the order is moved to "([^"]*)"$`, tc.theOrderIsMovedTo)

	// Then steps
	ctx.Step(`^the order is accepted with status "([^"]*)"$`, tc.theOrderIsAcceptedWithStatus)
	ctx.Step(`^the order is rejected with "([^"]*)"$`, tc.theOrderIsRejectedWith)
	ctx.Step(`^the status change is rejected$`, tc.theStatusChangeIsRejected)
	ctx.Step(`^the order has status "([^"]*)"$`, tc.theOrderHasStatus)
	ctx.Step(`^"([^"]*)" has (\d+) in stock$`, tc.productHasInStock)
	ctx.Step(`^no orders exist$`, tc.noOrdersExist)
	ctx.Step(`^exactly (\d+) orders? (?:is|are) accepted$`, tc.exactlyOrderIsAccepted)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
