package alchemy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TransferHandler is called for every mined transfer matching a subscription.
type TransferHandler func(Transfer)

// WSClient is a WebSocket client for Alchemy's eth_subscribe feed. It manages
// the connection lifecycle, subscriptions, and dispatches matched transfers to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []rpcRequest
	nextID        int

	handlers  []TransferHandler
	handlerMu sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given chain.
func NewWSClient(chain, apiKey string) (*WSClient, error) {
	host, err := Host(chain)
	if err != nil {
		return nil, err
	}
	return &WSClient{
		wsURL:  fmt.Sprintf("wss://%s/v2/%s", host, strings.TrimSpace(apiKey)),
		nextID: 1,
		done:   make(chan struct{}),
	}, nil
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("alchemy/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("alchemy/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("alchemy/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeTransfers subscribes to mined transactions touching any of the
// given addresses, in both directions.
func (w *WSClient) SubscribeTransfers(ctx context.Context, addresses []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("alchemy/ws: not connected")
	}

	filters := make([]map[string]string, 0, len(addresses)*2)
	for _, a := range addresses {
		filters = append(filters,
			map[string]string{"from": a},
			map[string]string{"to": a},
		)
	}

	cmd := rpcRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  "eth_subscribe",
		Params: []any{
			"alchemy_minedTransactions",
			map[string]any{
				"addresses":      filters,
				"includeRemoved": false,
				"hashesOnly":     false,
			},
		},
	}
	w.nextID++

	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("alchemy/ws: subscribe: %w", err)
	}

	// Track subscription for reconnection.
	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// OnTransfer registers a handler called for every streamed transfer.
func (w *WSClient) OnTransfer(handler TransferHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd rpcRequest) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches them
// to registered handlers. On disconnect it reconnects with exponential
// backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// minedTxNotification is the eth_subscription push envelope for
// alchemy_minedTransactions.
type minedTxNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Transaction struct {
				Hash  string `json:"hash"`
				From  string `json:"from"`
				To    string `json:"to"`
				Value string `json:"value"` // hex wei
			} `json:"transaction"`
		} `json:"result"`
	} `json:"params"`
}

// handleMessage parses a raw WebSocket message and dispatches transfers.
// Subscription confirmations and unparseable messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var note minedTxNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		return
	}
	if note.Method != "eth_subscription" {
		return
	}

	tx := note.Params.Result.Transaction
	if tx.Hash == "" {
		return
	}

	transfer := Transfer{
		TxHash:    tx.Hash,
		From:      tx.From,
		To:        tx.To,
		Asset:     "ETH",
		Value:     transferValue(0, tx.Value, 18),
		Timestamp: time.Now().UTC(),
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(transfer)
	}
}

// reconnect re-establishes the WebSocket connection with exponential backoff.
// It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
