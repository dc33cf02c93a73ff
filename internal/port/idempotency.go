package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key after a failed attempt so the client can retry
	ReleaseIdempotency(ctx context.Context, key string) error
}
