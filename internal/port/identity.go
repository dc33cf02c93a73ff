package port

import "github.com/Quagm/ios-aquatics/internal/core/domain"

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}
