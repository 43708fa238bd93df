package valr

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// PriceHandler receives each trade tick from the market data stream
type PriceHandler func(pair string, price float64, tradedAt time.Time)

// PriceStream is the public trade WebSocket. It pushes per-pair price
// ticks to a handler. Reconnection is the caller's responsibility (the
// engine's recovery manager); the stream only reports disconnects.
type PriceStream struct {
	mu sync.RWMutex

	wsURL     string
	pairs     []string
	conn      *websocket.Conn
	connected bool
	stopping  bool

	onPrice      PriceHandler
	onDisconnect func(err error)

	logger zerolog.Logger
}

// NewPriceStream creates a stream for the given pairs
func NewPriceStream(wsURL string, pairs []string, logger zerolog.Logger) *PriceStream {
	return &PriceStream{
		wsURL:  wsURL + "/ws/trade",
		pairs:  pairs,
		logger: logger.With().Str("component", "price_stream").Logger(),
	}
}

// SetPriceHandler sets the tick callback. Must be called before Connect.
func (s *PriceStream) SetPriceHandler(h PriceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPrice = h
}

// SetDisconnectHandler sets the callback invoked when the read loop exits
// with an error while the stream is not deliberately stopping.
func (s *PriceStream) SetDisconnectHandler(h func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

// Connect dials the WebSocket, subscribes to trade events for all pairs,
// and starts the read loop.
func (s *PriceStream) Connect() error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.stopping = false
	s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}

	sub := map[string]any{
		"type": "SUBSCRIBE",
		"subscriptions": []map[string]any{
			{"event": "NEW_TRADE", "pairs": s.pairs},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe price stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.logger.Info().Strs("pairs", s.pairs).Msg("price stream connected")

	go s.readLoop(conn)
	return nil
}

// IsConnected reports whether the stream currently has a live connection
func (s *PriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close shuts the stream down without triggering the disconnect handler
func (s *PriceStream) Close() {
	s.mu.Lock()
	s.stopping = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *PriceStream) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		s.handleMessage(message)
	}

	s.mu.Lock()
	stopping := s.stopping
	s.connected = false
	onDisconnect := s.onDisconnect
	s.mu.Unlock()

	if stopping {
		return
	}

	s.logger.Warn().Err(readErr).Msg("price stream disconnected")
	if onDisconnect != nil {
		onDisconnect(readErr)
	}
}

func (s *PriceStream) handleMessage(message []byte) {
	var envelope struct {
		Type               string `json:"type"`
		CurrencyPairSymbol string `json:"currencyPairSymbol"`
		Data               struct {
			Price    float64 `json:"price,string"`
			TradedAt string  `json:"tradedAt"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.Debug().Err(err).Msg("unparseable stream message")
		return
	}

	if envelope.Type != "NEW_TRADE" {
		return
	}

	tradedAt, err := time.Parse(time.RFC3339, envelope.Data.TradedAt)
	if err != nil {
		tradedAt = time.Now().UTC()
	}

	s.mu.RLock()
	handler := s.onPrice
	s.mu.RUnlock()

	if handler != nil {
		handler(envelope.CurrencyPairSymbol, envelope.Data.Price, tradedAt)
	}
}
