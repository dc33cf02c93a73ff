package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/port"
)

type StockService struct {
	ledger port.StockLedger
}

func NewStockService(ledger port.StockLedger) *StockService {
	return &StockService{ledger: ledger}
}

func (s *StockService) GetStock(ctx context.Context, productID string) (int, error) {
	p, err := s.ledger.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

// CheckAvailability checks every requested product and reports all
// shortages together. A failed lookup only affects its own product.
func (s *StockService) CheckAvailability(ctx context.Context, items []domain.StockRequest) error {
	if len(items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, item := range items {
		if err := validateStockRequest(item); err != nil {
			return err
		}
	}

	var shortages []domain.Shortage
	for _, item := range domain.MergeStockRequests(items) {
		p, err := s.ledger.GetProduct(ctx, item.ProductID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn().Err(err).Str("productId", item.ProductID).Msg("stock lookup failed")
			}
			shortages = append(shortages, domain.Shortage{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				NotFound:  true,
			})
			continue
		}
		if p.Stock < item.Quantity {
			shortages = append(shortages, domain.Shortage{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   item.Quantity,
			})
		}
	}

	if len(shortages) > 0 {
		return &domain.InsufficientStockError{Shortages: shortages}
	}
	return nil
}

// Decrement lowers stock by quantity but never below zero. An operator
// seeing zero is preferred over failing after payment was promised.
func (s *StockService) Decrement(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	stock, err := s.ledger.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	if stock == 0 {
		log.Warn().Str("productId", productID).Int("quantity", quantity).Msg("stock floored at zero")
	}
	return stock, nil
}

// Adjust applies a manual delta from the admin screens.
func (s *StockService) Adjust(ctx context.Context, productID string, delta int) (int, error) {
	switch {
	case delta < 0:
		return s.Decrement(ctx, productID, -delta)
	case delta > 0:
		if err := s.ledger.RestoreStock(ctx, productID, delta); err != nil {
			return 0, fmt.Errorf("restore stock: %w", err)
		}
	}
	return s.GetStock(ctx, productID)
}

func (s *StockService) SetStock(ctx context.Context, productID string, stock, version int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	if err := s.ledger.SetStock(ctx, productID, stock, version); err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}

// ResetAll sets every product's stock to target. Products are reset one by
// one; the call only fails when nothing could be reset.
func (s *StockService) ResetAll(ctx context.Context, target int) (domain.ResetResult, error) {
	var result domain.ResetResult
	if target < 0 {
		return result, &domain.ValidationError{Field: "targetStock", Reason: "must not be negative"}
	}

	ids, err := s.ledger.ListProductIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("list products: %w", err)
	}

	for _, id := range ids {
		if err := s.ledger.ResetStock(ctx, id, target); err != nil {
			log.Error().Err(err).Str("productId", id).Msg("stock reset failed")
			result.Errors = append(result.Errors, fmt.Sprintf("product %s: %v", id, err))
			continue
		}
		result.UpdatedCount++
	}

	log.Info().Int("updated", result.UpdatedCount).Int("failed", len(result.Errors)).Int("target", target).Msg("stock reset finished")

	if result.UpdatedCount == 0 && len(result.Errors) > 0 {
		return result, &domain.UpstreamError{Op: "reset stock", Err: errors.New(result.Errors[0])}
	}
	return result, nil
}

func validateStockRequest(item domain.StockRequest) error {
	if item.ProductID == "" {
		return &domain.ValidationError{Field: "id", Reason: "product id is required"}
	}
	if item.Quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive for product " + item.ProductID}
	}
	if item.Quantity > domain.MaxQuantity {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("exceeds %d for product %s", domain.MaxQuantity, item.ProductID)}
	}
	return nil
}
