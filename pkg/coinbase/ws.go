// pkg/coinbase/ws.go
package coinbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// WSConnector keeps a subscribed connection to the Advanced Trade feed,
// reconnecting with back-off whenever reading fails.
type WSConnector struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer

	connected atomic.Bool
	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
}

var _ Connector = (*WSConnector)(nil)

// NewConnector validates cfg and returns a connector. Nothing is dialed
// until Stream is called.
func NewConnector(cfg Config, log *logger.Logger) (*WSConnector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WSConnector{
		cfg:    cfg,
		log:    log.Named("coinbase-ws"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout * 2, Proxy: websocket.DefaultDialer.Proxy},
	}, nil
}

// Connected reports whether a subscribed connection is currently open.
func (c *WSConnector) Connected() bool { return c.connected.Load() }

// Stream starts the read loop and returns its output channel. The
// channel is closed once ctx is done or Close is called.
func (c *WSConnector) Stream(ctx context.Context) (<-chan RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("coinbase: connector closed")
	}
	ch := make(chan RawMessage, c.cfg.BufferSize)
	go c.run(ctx, ch)
	return ch, nil
}

// Close drops the current connection and stops reconnecting.
func (c *WSConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSConnector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WSConnector) run(ctx context.Context, ch chan<- RawMessage) {
	defer close(ch)
	defer c.connected.Store(false)

	for {
		if ctx.Err() != nil || c.isClosed() {
			c.log.Info("ws: stopped")
			return
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("ws: connect failed", zap.Error(err))
			if !c.deliver(ctx, ch, RawMessage{Err: err}) {
				return
			}
			continue
		}

		err = c.readLoop(ctx, conn, ch)
		c.connected.Store(false)
		c.dropConn(conn)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.log.Warn("ws: read error, reconnecting", zap.Error(err))
		if !c.deliver(ctx, ch, RawMessage{Err: err}) {
			return
		}
	}
}

// connect dials and subscribes with back-off.
func (c *WSConnector) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.Execute(ctx, "coinbase_ws_connect", c.cfg.BackoffConfig, c.log,
		func(ctx context.Context) error {
			cn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
			}
			if err := c.subscribe(cn); err != nil {
				_ = cn.Close()
				return err
			}
			conn = cn
			return nil
		})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("ws: connected",
		zap.String("url", c.cfg.URL),
		zap.Strings("channels", c.cfg.Channels),
		zap.Int("products", len(c.cfg.ProductIDs)),
	)
	return conn, nil
}

// subscribe sends one frame per channel; product channels are split
// into frames of at most MaxProductsPerSubscribe ids.
func (c *WSConnector) subscribe(conn *websocket.Conn) error {
	for _, req := range subscribeFrames(c.cfg.Channels, c.cfg.ProductIDs) {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", req.Channel, err)
		}
	}
	return nil
}

func subscribeFrames(channels, products []string) []SubscribeRequest {
	var out []SubscribeRequest
	for _, ch := range channels {
		if ch == ChannelHeartbeats || len(products) == 0 {
			out = append(out, Subscribe(ch, nil))
			continue
		}
		for start := 0; start < len(products); start += MaxProductsPerSubscribe {
			end := start + MaxProductsPerSubscribe
			if end > len(products) {
				end = len(products)
			}
			out = append(out, Subscribe(ch, products[start:end]))
		}
	}
	return out
}

func (c *WSConnector) readLoop(ctx context.Context, conn *websocket.Conn, ch chan<- RawMessage) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	go c.pingLoop(connCtx, conn)
	go func() {
		// unblocks ReadMessage on shutdown
		<-connCtx.Done()
		if ctx.Err() != nil {
			_ = conn.Close()
		}
	}()

	for {
		// Armed per read: time blocked in deliver is not read idleness.
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg := RawMessage{Data: data, Channel: gjson.GetBytes(data, "channel").String()}
		if !c.deliver(ctx, ch, msg) {
			return ctx.Err()
		}
	}
}

func (c *WSConnector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Warn("ws: ping failed", zap.Error(err))
			}
		}
	}
}

// deliver blocks until msg is queued or ctx ends. Frames are never dropped.
func (c *WSConnector) deliver(ctx context.Context, ch chan<- RawMessage, msg RawMessage) bool {
	select {
	case ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *WSConnector) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}
