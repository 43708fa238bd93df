package market

import (
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/exchange/valr"
)

// PriceSource is the stream surface the consumer needs
type PriceSource interface {
	SetPriceHandler(valr.PriceHandler)
	SetDisconnectHandler(func(err error))
	Connect() error
	IsConnected() bool
	Close()
}

// StreamConsumer bridges the exchange price stream into the engine's
// event queue. Ticks never block the stream's read loop: when the queue
// is full the update is dropped and logged at debug.
type StreamConsumer struct {
	stream PriceSource
	queue  *events.Queue
	logger zerolog.Logger
}

// NewStreamConsumer wires a price source to the event queue
func NewStreamConsumer(stream PriceSource, queue *events.Queue, logger zerolog.Logger) *StreamConsumer {
	c := &StreamConsumer{
		stream: stream,
		queue:  queue,
		logger: logger.With().Str("component", "price_consumer").Logger(),
	}
	stream.SetPriceHandler(c.onPrice)
	return c
}

// SetDisconnectHandler forwards disconnects to the recovery manager
func (c *StreamConsumer) SetDisconnectHandler(h func(err error)) {
	c.stream.SetDisconnectHandler(h)
}

// Connect starts the underlying stream
func (c *StreamConsumer) Connect() error {
	return c.stream.Connect()
}

// IsConnected reports the underlying stream state
func (c *StreamConsumer) IsConnected() bool {
	return c.stream.IsConnected()
}

// Close stops the underlying stream
func (c *StreamConsumer) Close() {
	c.stream.Close()
}

func (c *StreamConsumer) onPrice(pair string, price float64, tradedAt time.Time) {
	ok := c.queue.PublishOrDrop(events.Event{
		Type:      events.EventPriceUpdate,
		Pair:      pair,
		Price:     price,
		Timestamp: tradedAt,
	})
	if !ok {
		c.logger.Debug().Str("pair", pair).Float64("price", price).Msg("queue full, price update dropped")
	}
}
