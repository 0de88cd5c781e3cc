package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agent-market/internal/domain"
)

// ClientConfig configures Client behavior.
type ClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading a frame.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing a frame.
	WriteTimeout time.Duration
	// Buffer is the capacity of the Events channel.
	Buffer int
	Logger zerolog.Logger
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// Client follows a Hub endpoint. After a dropped connection it reconnects
// with backoff and resumes after the last event it delivered, so Events sees
// every matching event once and in order.
type Client struct {
	endpoint string
	filter   domain.EventFilter
	config   ClientConfig
	log      zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// position of the last delivered event
	posMu     sync.Mutex
	lastSeq   uint64
	lastIndex uint32

	events chan domain.Event
	done   chan struct{}
	wg     sync.WaitGroup

	reconnecting atomic.Bool
	reconnects   atomic.Int64
}

// Dial connects to endpoint (ws:// or wss://) and starts following events
// matching filter. filter.AfterSeq sets the resume point.
func Dial(ctx context.Context, endpoint string, filter domain.EventFilter, config *ClientConfig) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}

	c := &Client{
		endpoint: endpoint,
		filter:   filter,
		config:   cfg,
		log:      cfg.Logger,
		lastSeq:  filter.AfterSeq,
		events:   make(chan domain.Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Events returns the delivery channel. It is closed by Close.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// Reconnects returns how many times the connection was re-established.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// streamURL builds the endpoint URL resuming at the last delivered sequence.
// The whole last batch is requested again; readLoop drops what was seen.
func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	c.posMu.Lock()
	resume, hasPosition := c.lastSeq, c.lastSeq > 0
	if resume > c.filter.AfterSeq {
		resume--
	}
	c.posMu.Unlock()

	q := u.Query()
	if c.filter.Kind != "" {
		q.Set("kind", c.filter.Kind)
	}
	if c.filter.Provider != "" {
		q.Set("provider", string(c.filter.Provider))
	}
	if c.filter.User != "" {
		q.Set("user", string(c.filter.User))
	}
	if hasPosition {
		q.Set("after_seq", strconv.FormatUint(resume, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) connect(ctx context.Context) error {
	target, err := c.streamURL()
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Close closes the connection and the Events channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay
	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.log.Warn().Err(err).Dur("delay", reconnectDelay).Msg("stream connection lost, reconnecting")
				go c.reconnect(conn, reconnectDelay)
			}

			reconnectDelay *= 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces the failed connection. A failed dial is retried on the
// next read error.
func (c *Client) reconnect(failed *websocket.Conn, delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn == failed {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("stream reconnect failed")
		return
	}
	if c.closed.Load() {
		c.connMu.Lock()
		c.conn.Close()
		c.connMu.Unlock()
		return
	}
	c.reconnects.Add(1)
	c.log.Info().Msg("stream reconnected")
}

func (c *Client) handleMessage(message []byte) {
	var e domain.Event
	if err := json.Unmarshal(message, &e); err != nil {
		c.log.Warn().Err(err).Msg("stream: undecodable frame")
		return
	}

	c.posMu.Lock()
	if c.lastSeq > 0 && !after(e, c.lastSeq, c.lastIndex) {
		c.posMu.Unlock()
		return
	}
	c.lastSeq, c.lastIndex = e.Seq, e.Index
	c.posMu.Unlock()

	select {
	case c.events <- e:
	case <-c.done:
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
			c.connMu.Unlock()
		}
	}
}
