// Package feed maintains live minute-bar windows per ticker over a
// websocket stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/broker"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

// barMessage is the wire format of one completed minute bar.
type barMessage struct {
	Ticker    string  `json:"ticker"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// Config configures the stream client.
type Config struct {
	URL        string        `json:"url"`
	Tickers    []string      `json:"tickers"`
	WindowSize int           `json:"window_size"`
	DialRetry  time.Duration `json:"dial_retry"`
}

// DefaultConfig returns default config.
func DefaultConfig() Config {
	return Config{
		URL:        "wss://stream.ospreyquant.internal/v1/bars",
		Tickers:    []string{"SPY", "QQQ", "IWM"},
		WindowSize: 120,
		DialRetry:  5 * time.Second,
	}
}

// Stream consumes minute bars from a websocket and keeps a bounded
// trailing window per ticker. It implements broker.BarSource.
type Stream struct {
	logger *zap.Logger
	config Config

	conn   *websocket.Conn
	connMu sync.RWMutex

	windows  map[string][]types.Bar
	windowMu sync.RWMutex

	onBar func(types.Bar)

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ broker.BarSource = (*Stream)(nil)

// NewStream creates a stream client.
func NewStream(logger *zap.Logger, config Config) *Stream {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultConfig().WindowSize
	}
	if config.DialRetry <= 0 {
		config.DialRetry = DefaultConfig().DialRetry
	}
	return &Stream{
		logger:  logger.Named("feed"),
		config:  config,
		windows: make(map[string][]types.Bar),
	}
}

// OnBar sets the completed-bar callback. Set before Start.
func (s *Stream) OnBar(fn func(types.Bar)) {
	s.onBar = fn
}

// Start connects and launches the read and reconnect loops.
func (s *Stream) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if err := s.connect(); err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	go s.readLoop()
	go s.reconnectMonitor()

	s.logger.Info("bar feed started",
		zap.String("url", s.config.URL),
		zap.Int("tickers", len(s.config.Tickers)))
	return nil
}

// Stop closes the connection and stops the loops.
func (s *Stream) Stop() error {
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.logger.Info("bar feed stopped")
	return nil
}

func (s *Stream) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	u, err := url.Parse(s.config.URL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	s.conn = conn

	sub := map[string]interface{}{
		"action":  "subscribe",
		"tickers": s.config.Tickers,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		s.conn = nil
		return err
	}

	s.logger.Debug("feed connected", zap.String("url", s.config.URL))
	return nil
}

func (s *Stream) readLoop() {
	for s.running {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.running {
				s.logger.Error("feed read error", zap.Error(err))
				s.dropConn(conn)
			}
			continue
		}
		s.handleMessage(message)
	}
}

func (s *Stream) dropConn(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) handleMessage(data []byte) {
	var msg barMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("discarding malformed feed message", zap.Error(err))
		return
	}
	if msg.Ticker == "" || msg.Close <= 0 {
		return
	}

	bar := types.Bar{
		Ticker:    msg.Ticker,
		Open:      msg.Open,
		High:      msg.High,
		Low:       msg.Low,
		Close:     msg.Close,
		Volume:    msg.Volume,
		Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
	}
	s.Append(bar)

	if s.onBar != nil {
		s.onBar(bar)
	}
}

// Append adds a bar to the ticker's window, evicting the oldest when the
// window is full. Exported so paper-mode replays can drive the same path.
func (s *Stream) Append(bar types.Bar) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	window := append(s.windows[bar.Ticker], bar)
	if len(window) > s.config.WindowSize {
		window = window[len(window)-s.config.WindowSize:]
	}
	s.windows[bar.Ticker] = window
}

// LatestBars returns up to n trailing bars for the ticker, freshest last.
func (s *Stream) LatestBars(_ context.Context, ticker string, n int) ([]types.Bar, error) {
	s.windowMu.RLock()
	defer s.windowMu.RUnlock()

	window, ok := s.windows[ticker]
	if !ok || len(window) == 0 {
		return nil, fmt.Errorf("%w: %s", broker.ErrNoSuchTicker, ticker)
	}
	if n <= 0 || n > len(window) {
		n = len(window)
	}
	out := make([]types.Bar, n)
	copy(out, window[len(window)-n:])
	return out, nil
}

// LastClose returns the most recent close for the ticker, or 0 when no
// bars have arrived yet.
func (s *Stream) LastClose(ticker string) float64 {
	s.windowMu.RLock()
	defer s.windowMu.RUnlock()

	window := s.windows[ticker]
	if len(window) == 0 {
		return 0
	}
	return window[len(window)-1].Close
}

func (s *Stream) reconnectMonitor() {
	ticker := time.NewTicker(s.config.DialRetry)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil && s.running {
				s.logger.Info("reconnecting bar feed")
				if err := s.connect(); err != nil {
					s.logger.Error("feed reconnect failed", zap.Error(err))
				}
			}
		}
	}
}
