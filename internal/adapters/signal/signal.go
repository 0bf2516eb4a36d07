// Package signal is the client side of the shared signaling websocket.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
)

var ErrNotConnected = errors.New("signaling not connected")

const (
	sendBuffer     = 32
	writeWait      = 5 * time.Second
	minReconnect   = time.Second
	maxReconnect   = 30 * time.Second
	defaultPing    = 54 * time.Second
	defaultReadMax = 1 << 20
)

type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

type Config struct {
	URL        string
	Token      string
	PingPeriod time.Duration
	ReadLimit  int64
}

// Client keeps one websocket to the chat server alive and routes voice
// messages to the handler. Other message types are left to other features.
type Client struct {
	cfg     Config
	handler core.SignalHandler
	dialer  *websocket.Dialer

	mu   sync.RWMutex
	conn *WsSignalConn
}

func NewClient(cfg Config, handler core.SignalHandler) *Client {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPing
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadMax
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		dialer:  websocket.DefaultDialer,
	}
}

// Send encodes and queues one message. It never blocks; a full queue is
// core.ErrBackpressure.
func (c *Client) Send(msgType string, payload any) error {
	frame, err := core.Encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.TrySend(frame)
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Run connects and reconnects with backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := minReconnect
	for {
		started := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnect {
			backoff = minReconnect
		}
		log.Warn().Err(err).Str("module", "signal").Dur("retry_in", backoff).Msg("signaling disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnect)
	}
}

// session runs one connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	conn := &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	log.Info().Str("module", "signal").Str("conn_id", conn.id).Str("url", c.cfg.URL).Msg("signaling connected")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx, conn)
	return c.readPump(ctx, conn)
}
