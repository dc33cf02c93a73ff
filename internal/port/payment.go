package port

import (
	"context"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

type PaymentLinkProvider interface {
	// CreatePaymentLink returns the hosted checkout URL
	CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error)
}
