package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

func TestCheckAvailability(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 3})
	svc := NewStockService(store)
	ctx := context.Background()

	if err := svc.CheckAvailability(ctx, []domain.StockRequest{{ProductID: "tetra", Quantity: 3}}); err != nil {
		t.Errorf("expected stock to cover 3, got: %v", err)
	}

	// Same product twice is checked against the combined quantity.
	err := svc.CheckAvailability(ctx, []domain.StockRequest{
		{ProductID: "tetra", Quantity: 2},
		{ProductID: "tetra", Quantity: 2},
		{ProductID: "ghost", Quantity: 1},
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	want := []string{
		"insufficient stock for Neon Tetra: available 3, requested 4",
		"product ghost not found",
	}
	got := stockErr.Details()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("detail %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCheckAvailability_QuantityBounds(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "tetra", Name: "Neon Tetra", Stock: 3})
	svc := NewStockService(store)
	ctx := context.Background()

	err := svc.CheckAvailability(ctx, []domain.StockRequest{{ProductID: "tetra", Quantity: domain.MaxQuantity + 1}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}

	// Two maximal lines must not wrap around into a small request.
	err = svc.CheckAvailability(ctx, []domain.StockRequest{
		{ProductID: "tetra", Quantity: domain.MaxQuantity},
		{ProductID: "tetra", Quantity: domain.MaxQuantity},
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if got := stockErr.Shortages[0].Requested; got != domain.MaxQuantity {
		t.Errorf("expected requested %d, got %d", domain.MaxQuantity, got)
	}
}

func TestDecrement_FloorsAtZero(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 2})
	svc := NewStockService(store)

	stock, err := svc.Decrement(context.Background(), "moss", 5)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}

	if _, err := svc.Decrement(context.Background(), "moss", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestAdjust(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 4})
	svc := NewStockService(store)
	ctx := context.Background()

	stock, err := svc.Adjust(ctx, "moss", 3)
	if err != nil || stock != 7 {
		t.Errorf("expected 7, got %d (%v)", stock, err)
	}
	stock, err = svc.Adjust(ctx, "moss", -2)
	if err != nil || stock != 5 {
		t.Errorf("expected 5, got %d (%v)", stock, err)
	}
	if _, err := svc.Adjust(ctx, "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestSetStock_VersionCheck(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "moss", Name: "Java Moss", Stock: 4, Version: 3})
	svc := NewStockService(store)
	ctx := context.Background()

	if err := svc.SetStock(ctx, "moss", 10, 2); !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Errorf("expected ErrConcurrentUpdate, got: %v", err)
	}
	if err := svc.SetStock(ctx, "moss", 10, 3); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	p, _ := store.GetProduct(ctx, "moss")
	if p.Stock != 10 || p.Version != 4 {
		t.Errorf("expected stock 10 at version 4, got %d at %d", p.Stock, p.Version)
	}
	if err := svc.SetStock(ctx, "moss", -1, 4); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestResetAll_PartialFailure(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "a", Name: "Amano Shrimp", Stock: 1})
	store.PutProduct(domain.Product{ID: "b", Name: "Bucephalandra", Stock: 2})
	store.PutProduct(domain.Product{ID: "c", Name: "Cardinal Tetra", Stock: 3})
	store.failReset["b"] = true
	svc := NewStockService(store)
	ctx := context.Background()

	result, err := svc.ResetAll(ctx, 50)
	if err != nil {
		t.Fatalf("expected partial success, got: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Errorf("expected 2 updated, got %d", result.UpdatedCount)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}

	for id, want := range map[string]int{"a": 50, "b": 2, "c": 50} {
		if got := stockOf(t, store, id); got != want {
			t.Errorf("product %s: expected %d, got %d", id, want, got)
		}
	}
}

func TestResetAll_AllFail(t *testing.T) {
	store := newFaultyStore()
	store.PutProduct(domain.Product{ID: "a", Name: "Amano Shrimp", Stock: 1})
	store.failReset["a"] = true
	svc := NewStockService(store)

	result, err := svc.ResetAll(context.Background(), 50)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got: %v", err)
	}
	if result.UpdatedCount != 0 || len(result.Errors) != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	if _, err := svc.ResetAll(context.Background(), -1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}
