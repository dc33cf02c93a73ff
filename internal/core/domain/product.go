package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "active"
	ProductStatusLowStock   ProductStatus = "low_stock"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

// DeriveStatus is the only source of a product's status.
func DeriveStatus(stock, minStock int) ProductStatus {
	switch {
	case stock <= 0:
		return ProductStatusOutOfStock
	case stock <= minStock:
		return ProductStatusLowStock
	default:
		return ProductStatusActive
	}
}

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Active   bool            `json:"active"`
	Stock    int             `json:"stock"`
	MinStock int             `json:"min_stock"`
	// Version is bumped on every stock write; manual edits must present the
	// version they read.
	Version   int           `json:"version"`
	Status    ProductStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
