package valr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const orderProcessedWait = 10 * time.Second

// WSOrderResult is the outcome of an order placed over the account socket
type WSOrderResult struct {
	OrderID   string
	Success   bool
	Failure   string
	FillPrice float64
	FillQty   float64
	Fee       float64
}

type pendingOrder struct {
	done    chan *WSOrderResult
	orderID string
	result  *WSOrderResult
}

// AccountStream is the authenticated account WebSocket. Orders are placed
// with PLACE_ORDER and correlated back through ORDER_PROCESSED and
// NEW_TRADE by customerOrderId.
type AccountStream struct {
	mu sync.Mutex

	wsURL     string
	apiKey    string
	secretKey string
	conn      *websocket.Conn
	connected bool
	stopping  bool

	// keyed by customerOrderId until ORDER_PROCESSED, then also by orderId
	// so the NEW_TRADE fill can be attached
	pendingByCustomerID map[string]*pendingOrder
	pendingByOrderID    map[string]*pendingOrder

	onDisconnect func(err error)

	logger zerolog.Logger
}

// NewAccountStream creates an authenticated account stream
func NewAccountStream(wsURL, apiKey, secretKey string, logger zerolog.Logger) *AccountStream {
	return &AccountStream{
		wsURL:               wsURL + "/ws/account",
		apiKey:              apiKey,
		secretKey:           secretKey,
		pendingByCustomerID: make(map[string]*pendingOrder),
		pendingByOrderID:    make(map[string]*pendingOrder),
		logger:              logger.With().Str("component", "account_stream").Logger(),
	}
}

// SetDisconnectHandler sets the callback invoked on unexpected disconnect
func (s *AccountStream) SetDisconnectHandler(h func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

// Connect dials the account socket with signed upgrade headers
func (s *AccountStream) Connect() error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.stopping = false
	s.mu.Unlock()

	if s.apiKey == "" || s.secretKey == "" {
		return fmt.Errorf("no API credentials configured")
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	headers := http.Header{}
	headers.Set("X-API-KEY", s.apiKey)
	headers.Set("X-SIGNATURE", Sign(s.secretKey, timestamp, http.MethodGet, "/ws/account", nil))
	headers.Set("X-TIMESTAMP", timestamp)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, headers)
	if err != nil {
		return fmt.Errorf("dial account stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.logger.Info().Msg("account stream connected")

	go s.readLoop(conn)
	return nil
}

// IsConnected reports whether the stream currently has a live connection
func (s *AccountStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close shuts the stream down without triggering the disconnect handler
func (s *AccountStream) Close() {
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

// PlaceMarketOrder sends PLACE_ORDER over the socket and waits up to 10s
// for the ORDER_PROCESSED acknowledgement. Fill details arrive on the
// correlated NEW_TRADE event; when that event is late the result carries
// the order ID with zero fill fields and the caller enriches from REST.
func (s *AccountStream) PlaceMarketOrder(pair, side string, baseAmount float64) (*WSOrderResult, error) {
	customerOrderID := uuid.New().String()

	pending := &pendingOrder{done: make(chan *WSOrderResult, 1)}

	s.mu.Lock()
	if !s.connected || s.conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("account stream not connected")
	}
	s.pendingByCustomerID[customerOrderID] = pending
	conn := s.conn
	s.mu.Unlock()

	message := map[string]any{
		"type": "PLACE_ORDER",
		"payload": map[string]string{
			"pair":            pair,
			"side":            side,
			"baseAmount":      formatAmount(baseAmount),
			"customerOrderId": customerOrderID,
		},
	}

	s.mu.Lock()
	err := conn.WriteJSON(message)
	s.mu.Unlock()
	if err != nil {
		s.dropPending(customerOrderID)
		return nil, fmt.Errorf("send order: %w", err)
	}

	timer := time.NewTimer(orderProcessedWait)
	defer timer.Stop()

	select {
	case result := <-pending.done:
		if !result.Success {
			return result, fmt.Errorf("order failed: %s", result.Failure)
		}
		return result, nil
	case <-timer.C:
		s.dropPending(customerOrderID)
		return nil, fmt.Errorf("order acknowledgement timed out after %s", orderProcessedWait)
	}
}

func (s *AccountStream) dropPending(customerOrderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pendingByCustomerID[customerOrderID]; ok {
		delete(s.pendingByCustomerID, customerOrderID)
		if p.orderID != "" {
			delete(s.pendingByOrderID, p.orderID)
		}
	}
}

func (s *AccountStream) readLoop(conn *websocket.Conn) {
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
	// fail any in-flight orders so callers do not wait out the full timeout
	for id, p := range s.pendingByCustomerID {
		p.done <- &WSOrderResult{Success: false, Failure: "connection lost"}
		delete(s.pendingByCustomerID, id)
	}
	s.pendingByOrderID = make(map[string]*pendingOrder)
	s.mu.Unlock()

	if stopping {
		return
	}

	s.logger.Warn().Err(readErr).Msg("account stream disconnected")
	if onDisconnect != nil {
		onDisconnect(readErr)
	}
}

func (s *AccountStream) handleMessage(message []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.Debug().Err(err).Msg("unparseable account message")
		return
	}

	switch envelope.Type {
	case "AUTHENTICATED":
		s.logger.Debug().Msg("account stream authenticated")
	case "ORDER_PROCESSED":
		s.handleOrderProcessed(envelope.Data)
	case "NEW_TRADE":
		s.handleNewTrade(envelope.Data)
	case "FAILED_CANCEL_ORDER", "ORDER_STATUS_UPDATE", "BALANCE_UPDATE":
		// informational; the router reads balances over REST
	}
}

func (s *AccountStream) handleOrderProcessed(data json.RawMessage) {
	var processed struct {
		OrderID         string `json:"orderId"`
		CustomerOrderID string `json:"customerOrderId"`
		Success         bool   `json:"success"`
		FailureReason   string `json:"failureReason"`
	}
	if err := json.Unmarshal(data, &processed); err != nil {
		s.logger.Warn().Err(err).Msg("parse ORDER_PROCESSED")
		return
	}

	s.mu.Lock()
	pending, ok := s.pendingByCustomerID[processed.CustomerOrderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pendingByCustomerID, processed.CustomerOrderID)

	result := &WSOrderResult{
		OrderID: processed.OrderID,
		Success: processed.Success,
		Failure: processed.FailureReason,
	}

	if !processed.Success {
		s.mu.Unlock()
		pending.done <- result
		return
	}

	pending.orderID = processed.OrderID
	pending.result = result
	s.pendingByOrderID[processed.OrderID] = pending
	s.mu.Unlock()

	// NEW_TRADE normally lands within a moment of the ack; give it a
	// short grace period before returning the ack alone.
	go func() {
		time.Sleep(2 * time.Second)
		s.mu.Lock()
		p, still := s.pendingByOrderID[processed.OrderID]
		if still {
			delete(s.pendingByOrderID, processed.OrderID)
		}
		s.mu.Unlock()
		if still {
			p.done <- p.result
		}
	}()
}

func (s *AccountStream) handleNewTrade(data json.RawMessage) {
	var trade struct {
		OrderID  string  `json:"orderId"`
		Price    float64 `json:"price,string"`
		Quantity float64 `json:"quantity,string"`
		Fee      float64 `json:"fee,string"`
	}
	if err := json.Unmarshal(data, &trade); err != nil {
		s.logger.Warn().Err(err).Msg("parse NEW_TRADE")
		return
	}

	s.mu.Lock()
	pending, ok := s.pendingByOrderID[trade.OrderID]
	if ok {
		delete(s.pendingByOrderID, trade.OrderID)
		pending.result.FillPrice = trade.Price
		pending.result.FillQty = trade.Quantity
		pending.result.Fee = trade.Fee
	}
	s.mu.Unlock()

	if ok {
		pending.done <- pending.result
	}
}
