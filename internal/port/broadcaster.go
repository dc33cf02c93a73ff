package port

import (
	"context"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// Broadcaster pushes an event to whoever is listening on topic right now.
// Nothing is stored; a subscriber that is offline misses the event.
type Broadcaster interface {
	Name() string
	Broadcast(ctx context.Context, topic string, event domain.StatusEvent) error
}
