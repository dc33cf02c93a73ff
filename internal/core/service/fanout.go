package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/port"
)

// Notifier accepts status events for best-effort delivery. Publish reports
// whether delivery was attempted, never whether anyone received the event.
type Notifier interface {
	Publish(event domain.StatusEvent) bool
}

type nopNotifier struct{}

func (nopNotifier) Publish(domain.StatusEvent) bool { return false }

// FanOut queues status events and lets a pool of workers hand them to every
// broadcaster. Failures are logged and dropped.
type FanOut struct {
	topic        string
	timeout      time.Duration
	broadcasters []port.Broadcaster
	queue        chan domain.StatusEvent

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewFanOut(topic string, queueSize int, timeout time.Duration, broadcasters ...port.Broadcaster) *FanOut {
	return &FanOut{
		topic:        topic,
		timeout:      timeout,
		broadcasters: broadcasters,
		queue:        make(chan domain.StatusEvent, queueSize),
	}
}

func (f *FanOut) Start(workers int) {
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go func(id int) {
			defer f.wg.Done()
			f.workerLoop(id)
		}(i)
	}
	log.Info().Int("workers", workers).Str("topic", f.topic).Msg("notification workers started")
}

func (f *FanOut) Publish(event domain.StatusEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed || len(f.broadcasters) == 0 {
		return false
	}

	select {
	case f.queue <- event:
		return true
	default:
		log.Warn().Str("id", event.ID).Str("kind", string(event.Kind)).Msg("notification queue full, event dropped")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (f *FanOut) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *FanOut) workerLoop(id int) {
	for event := range f.queue {
		for _, b := range f.broadcasters {
			f.broadcast(id, b, event)
		}
	}
}

func (f *FanOut) broadcast(worker int, b port.Broadcaster, event domain.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", worker).Str("broadcaster", b.Name()).Interface("panic", r).Msg("broadcaster panicked")
		}
	}()

	if err := b.Broadcast(ctx, f.topic, event); err != nil {
		log.Warn().Err(err).Int("worker", worker).Str("broadcaster", b.Name()).Str("id", event.ID).Msg("notification not sent")
		return
	}
	log.Debug().Int("worker", worker).Str("broadcaster", b.Name()).Str("id", event.ID).Str("status", event.NewStatus).Msg("notification sent")
}
