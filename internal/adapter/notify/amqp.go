package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

var errBroadcasterClosed = errors.New("amqp broadcaster closed")

// AMQPBroadcaster publishes events to a topic exchange with the topic as
// routing key. Messages are transient and unconfirmed; the broker drops them
// when no queue is bound.
type AMQPBroadcaster struct {
	url      string
	exchange string

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	chanClosed chan *amqp.Error
	closed     bool
}

// NewAMQPBroadcaster dials url and declares exchange. A lost connection is
// re-dialed, and a channel closed by a broker exception reopened, on the
// next Broadcast.
func NewAMQPBroadcaster(url, exchange string) (*AMQPBroadcaster, error) {
	b := &AMQPBroadcaster{url: url, exchange: exchange}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBroadcaster) Name() string { return "amqp" }

// connect must be called with mu held.
func (b *AMQPBroadcaster) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	b.conn = conn
	if err := b.openChannel(); err != nil {
		conn.Close()
		b.conn = nil
		return err
	}
	log.Info().Str("exchange", b.exchange).Msg("amqp broadcaster connected")
	return nil
}

// openChannel must be called with mu held and a live connection.
func (b *AMQPBroadcaster) openChannel() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		b.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err)
	}

	b.channel = ch
	b.chanClosed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

// channelClosed reports whether the broker or client has closed the channel.
func (b *AMQPBroadcaster) channelClosed() bool {
	select {
	case amqpErr := <-b.chanClosed:
		if amqpErr != nil {
			log.Warn().Int("code", amqpErr.Code).Str("reason", amqpErr.Reason).Msg("amqp channel closed by broker")
		}
		return true
	default:
		return false
	}
}

// ensureChannel must be called with mu held.
func (b *AMQPBroadcaster) ensureChannel() error {
	if b.conn == nil || b.conn.IsClosed() {
		log.Warn().Str("exchange", b.exchange).Msg("amqp connection lost, reconnecting")
		return b.connect()
	}
	if b.channel == nil || b.channelClosed() {
		log.Warn().Str("exchange", b.exchange).Msg("amqp channel lost, reopening")
		return b.openChannel()
	}
	return nil
}

func (b *AMQPBroadcaster) Broadcast(ctx context.Context, topic string, event domain.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBroadcasterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.ensureChannel(); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
		Timestamp:    time.Now(),
		Type:         string(event.Kind),
	}
	err = b.publish(topic, msg)
	if errors.Is(err, amqp.ErrClosed) {
		// Closed between the check and the publish; one fresh channel.
		b.chanClosed = nil
		b.channel = nil
		if err := b.ensureChannel(); err != nil {
			return err
		}
		err = b.publish(topic, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.exchange, err)
	}
	return nil
}

func (b *AMQPBroadcaster) publish(topic string, msg amqp.Publishing) error {
	return b.channel.Publish(
		b.exchange, // exchange
		topic,      // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
}

func (b *AMQPBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing amqp channel")
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}
