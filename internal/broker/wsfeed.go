package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"futures_oms/internal/infra"
)

const (
	feedMaxRetries  = 10
	feedReadTimeout = 60 * time.Second
)

// feedTickMessage is one top-of-book update from the market data feed.
type feedTickMessage struct {
	Type          string   `json:"type"`
	Instrument    string   `json:"instrument"`
	ContractDates []string `json:"contract_dates"`
	Bid           float64  `json:"bid"`
	Ask           float64  `json:"ask"`
	BidSize       int      `json:"bid_size"`
	AskSize       int      `json:"ask_size"`
	// CloseTimestamp is the next market close, unix seconds. Optional.
	CloseTimestamp int64 `json:"close_ts,omitempty"`
}

// Feed maintains the tick cache from a websocket market data stream, with
// automatic reconnection.
type Feed struct {
	url     string
	symbols []string
	cache   *TickCache
	log     *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFeed creates a feed worker writing into the given cache.
func NewFeed(url string, symbols []string, cache *TickCache, log *slog.Logger) *Feed {
	return &Feed{
		url:     url,
		symbols: symbols,
		cache:   cache,
		log:     log.With("component", "feed"),
	}
}

// Connect starts the connection loop in the background.
func (f *Feed) Connect(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.connectionLoop(ctx)

	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (f *Feed) connectionLoop(ctx context.Context) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("feed panic recovered", "panic", r)
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			f.log.Info("feed connection loop stopped")
			return
		default:
		}

		err := f.connect(ctx)
		if err != nil {
			f.log.Warn("feed connection failed", "error", err, "retry", retryCount)
			infra.GlobalMetrics.RecordError()

			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > feedMaxRetries {
				f.log.Error("feed max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0

		f.readLoop(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	if err := f.subscribe(); err != nil {
		f.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	f.log.Info("feed connected", "symbols", len(f.symbols))
	return nil
}

// subscribe sends the subscription message for all symbols.
func (f *Feed) subscribe() error {
	subscribeMsg := map[string]any{
		"op":      "subscribe",
		"channel": "top_of_book",
		"symbols": f.symbols,
	}

	msgBytes, err := json.Marshal(subscribeMsg)
	if err != nil {
		return err
	}
	return f.threadSafeWrite(websocket.TextMessage, msgBytes)
}

func (f *Feed) threadSafeWrite(messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.log.Warn("feed read error", "error", err)
			}
			f.closeConnection()
			return
		}

		f.handleMessage(message)
	}
}

func (f *Feed) handleMessage(message []byte) {
	var msg feedTickMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.log.Debug("feed message parse error", "error", err)
		return
	}
	if msg.Type != "tick" || msg.Instrument == "" {
		return
	}

	f.cache.SetTick(msg.Instrument, msg.ContractDates, Tick{
		Bid:     decimal.NewFromFloat(msg.Bid),
		Ask:     decimal.NewFromFloat(msg.Ask),
		BidSize: msg.BidSize,
		AskSize: msg.AskSize,
		Time:    time.Now(),
	})
	if msg.CloseTimestamp > 0 {
		f.cache.SetMarketClose(msg.Instrument, time.Unix(msg.CloseTimestamp, 0))
	}
	infra.GlobalMetrics.RecordTick()
}

func (f *Feed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
		infra.GlobalMetrics.DecrementConnections()
	}
	f.connected = false
}

// Disconnect stops the worker and closes the connection.
func (f *Feed) Disconnect() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()
	f.wg.Wait()
	f.log.Info("feed disconnected")
}

// IsConnected returns connection status.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}
