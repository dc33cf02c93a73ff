package domain

import (
	"fmt"
	"math"
)

// MaxQuantity bounds a single requested quantity; it matches the INT stock columns.
const MaxQuantity = math.MaxInt32

type StockRequest struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// MergeStockRequests sums quantities per product, keeping first-seen order.
// Sums saturate at MaxQuantity.
func MergeStockRequests(reqs []StockRequest) []StockRequest {
	index := make(map[string]int, len(reqs))
	merged := make([]StockRequest, 0, len(reqs))
	for _, r := range reqs {
		if i, ok := index[r.ProductID]; ok {
			merged[i].Quantity = addQuantity(merged[i].Quantity, r.Quantity)
			continue
		}
		index[r.ProductID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

func addQuantity(a, b int) int {
	if b > 0 && a > MaxQuantity-b {
		return MaxQuantity
	}
	return a + b
}

// Shortage describes one product that cannot cover its requested quantity.
type Shortage struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
	NotFound    bool   `json:"not_found,omitempty"`
}

func (s Shortage) Message() string {
	if s.NotFound {
		return fmt.Sprintf("product %s not found", s.ProductID)
	}
	name := s.ProductName
	if name == "" {
		name = s.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, s.Available, s.Requested)
}

// ResetResult reports a bulk stock reset. Errors holds one message per
// product that could not be reset.
type ResetResult struct {
	UpdatedCount int      `json:"updatedCount"`
	Errors       []string `json:"errors,omitempty"`
}
