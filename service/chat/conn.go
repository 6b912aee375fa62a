package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/tools/errs"
	"ChatRelay/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosed
)

func (s ConnState) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// ConnOptions tune one connection's pumps.
type ConnOptions struct {
	SendQueue      int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	RateBurst      int
	RateInterval   time.Duration // time to refill RateBurst tokens
}

func (o *ConnOptions) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
}

// Conn is one open client stream. Writes go through a buffered queue
// drained by a single write pump, so Send never blocks a handler.
type Conn struct {
	ID        int64 // snowflake, unique per process
	UserID    int64
	Remote    string
	CreatedAt time.Time

	ws      *websocket.Conn
	opts    ConnOptions
	limiter *rate.Limiter

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	friends []int64

	state     atomic.Int32
	lastSeen  atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps ws for userID. ws may be nil, in which case frames queued
// with Send stay in Outbox for the caller to read.
func NewConn(userID int64, ws *websocket.Conn, opts ConnOptions) *Conn {
	opts.norm()
	c := &Conn{
		ID:        ids.Generate(),
		UserID:    userID,
		CreatedAt: time.Now(),
		ws:        ws,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.RateInterval/time.Duration(opts.RateBurst)), opts.RateBurst),
		send:      make(chan []byte, opts.SendQueue),
		done:      make(chan struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr().String()
		ws.SetReadLimit(opts.MaxMessageSize)
	}
	c.lastSeen.Store(c.CreatedAt.UnixMilli())
	return c
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) LastSeen() time.Time { return time.UnixMilli(c.lastSeen.Load()) }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Outbox exposes the send queue. Only used when no write pump runs.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Send queues b for writing. A closed connection or a full queue is a
// DeliveryIOError; the caller treats the handle as stale.
func (c *Conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrDeliveryIO.WrapMsg("connection closed", "conn", c.ID)
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errs.ErrDeliveryIO.WrapMsg("send queue full", "conn", c.ID, "user", c.UserID)
	}
}

// Close marks the connection closed and stops the pumps. Safe to call more
// than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
		close(c.done)
		if c.ws != nil {
			// unblocks the read pump; the write pump sends the close frame
			_ = c.ws.SetReadDeadline(time.Now())
		}
	})
}

// RememberFriends keeps the friend ids of the latest presence check, used
// when no friend store is configured.
func (c *Conn) RememberFriends(friends []int64) {
	c.mu.Lock()
	c.friends = append(c.friends[:0], friends...)
	c.mu.Unlock()
}

func (c *Conn) Friends() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.friends...)
}

func (c *Conn) allow() bool { return c.limiter.Allow() }

// readPump delivers every text frame to onFrame until the stream fails or
// the connection is closed.
func (c *Conn) readPump(log *zap.Logger, onFrame func([]byte)) {
	ws := c.ws
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		c.lastSeen.Store(time.Now().UnixMilli())
		return ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			logReadError(log, c, err)
			return
		}
		if c.State() == StateClosed {
			return
		}
		c.lastSeen.Store(time.Now().UnixMilli())
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if !c.allow() {
			log.Warn("rate limit exceeded, frame discarded",
				zap.Int64("conn", c.ID), zap.Int64("user", c.UserID))
			continue
		}
		onFrame(data)
	}
}

func logReadError(log *zap.Logger, c *Conn, err error) {
	fields := []zap.Field{zap.Int64("conn", c.ID), zap.Int64("user", c.UserID), zap.Error(err)}
	var ne net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("frame exceeds size limit", append(fields, zap.Int64("limit", c.opts.MaxMessageSize))...)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF):
		log.Debug("peer closed", fields...)
	case errors.As(err, &ne) && ne.Timeout():
		if c.State() == StateClosed {
			log.Debug("closed locally", fields...)
		} else {
			log.Info("read timeout", fields...)
		}
	default:
		log.Info("read error", fields...)
	}
}

// writePump is the only writer of ws. It exits when the queue is closed or
// a write fails, closing the socket either way.
func (c *Conn) writePump(log *zap.Logger) {
	ws := c.ws
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Info("write failed", zap.Int64("conn", c.ID), zap.Int64("user", c.UserID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info("ping failed", zap.Int64("conn", c.ID), zap.Int64("user", c.UserID), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
