package chat

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"
	"ChatRelay/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	Protocol    *Protocol
	Conn        ConnOptions
	Friends     FriendSource
	Presence    PresenceSink
	CheckOrigin func(r *http.Request) bool
}

// Server owns the registry and routes every decoded frame through the
// dispatcher.
type Server struct {
	reg     *Registry
	disp    *Dispatcher
	codec   *Codec
	friends FriendSource
	opts    Options
	log     *zap.Logger

	upgrader websocket.Upgrader
	started  time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	life    sync.Mutex // orders admit against Shutdown
	closing atomic.Bool
	wg      sync.WaitGroup
	frames  atomic.Int64
	dropped atomic.Int64
}

func NewServer(opts Options) *Server {
	if opts.Protocol == nil {
		opts.Protocol = ChatProtocol
	}
	opts.Conn.norm()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reg:     NewRegistry(opts.Presence),
		disp:    NewDispatcher(),
		codec:   NewCodec(opts.Protocol),
		friends: opts.Friends,
		opts:    opts,
		log:     logger.Named("relay"),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}
	return s
}

func (s *Server) Registry() *Registry      { return s.reg }
func (s *Server) Disp() *Dispatcher        { return s.disp }
func (s *Server) Codec() *Codec            { return s.codec }
func (s *Server) Protocol() *Protocol      { return s.opts.Protocol }
func (s *Server) ConnOptions() ConnOptions { return s.opts.Conn }

// NewContext builds the handler context for one frame.
func (s *Server) NewContext(ctx context.Context) *Context {
	return &Context{
		Context:  ctx,
		Registry: s.reg,
		Codec:    s.codec,
		Friends:  s.friends,
		Log:      s.log,
		onStale:  s.Release,
	}
}

// Attach registers c. Serve calls it for websocket streams.
func (s *Server) Attach(c *Conn) {
	s.reg.Register(c)
	s.log.Debug("connection registered",
		zap.Int64("conn", c.ID), zap.Int64("user", c.UserID), zap.String("remote", c.Remote))
}

// Serve runs one client stream until it closes. The caller has already
// bound userID to the stream.
func (s *Server) Serve(ws *websocket.Conn, userID int64) {
	c := NewConn(userID, ws, s.opts.Conn)
	if !s.admit(c) {
		c.Close()
		c.writePump(s.log)
		return
	}
	defer s.wg.Done()
	safe.Go("write pump", func() { c.writePump(s.log) })

	c.readPump(s.log, func(raw []byte) { s.HandleFrame(c, raw) })
	s.Release(c)
}

// admit attaches c and counts it toward Shutdown's wait, unless Shutdown
// has already begun.
func (s *Server) admit(c *Conn) bool {
	s.life.Lock()
	defer s.life.Unlock()
	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	s.Attach(c)
	return true
}

// HandleFrame decodes one frame from src and dispatches it. Failures are
// logged and the frame is dropped; the stream stays open.
func (s *Server) HandleFrame(src *Conn, raw []byte) {
	s.frames.Add(1)
	env, err := s.codec.Decode(raw)
	if err != nil {
		s.logDrop(src, err, raw)
		return
	}
	if err := s.disp.Dispatch(s.NewContext(s.ctx), src, env); err != nil {
		s.logDrop(src, err, nil)
	}
}

// Inject routes a frame that arrived from outside the websocket layer,
// such as a message bus. There is no source stream.
func (s *Server) Inject(ctx context.Context, raw []byte) error {
	s.frames.Add(1)
	env, err := s.codec.Decode(raw)
	if err != nil {
		s.logDrop(nil, err, raw)
		return err
	}
	if err := s.disp.Dispatch(s.NewContext(ctx), nil, env); err != nil {
		s.logDrop(nil, err, nil)
		return err
	}
	return nil
}

func (s *Server) logDrop(src *Conn, err error, raw []byte) {
	s.dropped.Add(1)
	fields := []zap.Field{zap.Error(err)}
	if src != nil {
		fields = append(fields, zap.Int64("conn", src.ID), zap.Int64("user", src.UserID))
	}
	if len(raw) > 0 {
		sample := raw
		if len(sample) > 256 {
			sample = sample[:256]
		}
		fields = append(fields, zap.ByteString("sample", sample), zap.Int("len", len(raw)))
	}
	switch errs.Code(err) {
	case errs.LookupMissCode:
		s.log.Debug("receiver offline, dropped", fields...)
	case errs.DecodeErrorCode:
		s.log.Warn("malformed frame dropped", fields...)
	case errs.RouteMissCode:
		s.log.Warn("unroutable frame dropped", fields...)
	case errs.DeliveryIOCode:
		s.log.Info("delivery failed", fields...)
	default:
		s.log.Error("handler failed", fields...)
	}
}

// Release closes and deregisters c. When c was the user's last handle the
// user's online friends are told they left. Safe to call repeatedly.
func (s *Server) Release(c *Conn) {
	c.Close()
	removed, last := s.reg.remove(c)
	if !removed {
		return
	}
	s.log.Debug("connection released", zap.Int64("conn", c.ID), zap.Int64("user", c.UserID))
	if !last || s.closing.Load() {
		return
	}
	s.propagateDisconnect(c)
}

func (s *Server) propagateDisconnect(c *Conn) {
	if _, ok := s.opts.Protocol.Wire(KindDisconnect); !ok {
		return
	}
	d := Disconnect{Sender: NewParty(c.UserID)}
	if s.friends == nil {
		for _, id := range c.Friends() {
			d.Friends = append(d.Friends, NewParty(id))
		}
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	env := &Envelope{Kind: KindDisconnect, Payload: d}
	if err := s.disp.Dispatch(s.NewContext(ctx), nil, env); err != nil {
		s.logDrop(nil, err, nil)
	}
}

type Stats struct {
	Protocol string `json:"protocol"`
	Users    int    `json:"users"`
	Conns    int    `json:"conns"`
	Frames   int64  `json:"frames"`
	Dropped  int64  `json:"dropped"`
	Uptime   string `json:"uptime"`
	// MaxIdle is the longest any open handle has gone without a frame or pong.
	MaxIdle string `json:"maxIdle"`
}

func (s *Server) Stats() Stats {
	users, conns := s.reg.Count()
	now := time.Now()
	var idle time.Duration
	for _, c := range s.reg.All() {
		if d := now.Sub(c.LastSeen()); d > idle {
			idle = d
		}
	}
	return Stats{
		Protocol: s.opts.Protocol.Name(),
		Users:    users,
		Conns:    conns,
		Frames:   s.frames.Load(),
		Dropped:  s.dropped.Load(),
		Uptime:   now.Sub(s.started).Truncate(time.Second).String(),
		MaxIdle:  idle.Truncate(time.Millisecond).String(),
	}
}

// Shutdown closes every stream and waits for their loops to finish or ctx
// to expire. Friends are not notified.
func (s *Server) Shutdown(ctx context.Context) error {
	s.life.Lock()
	s.closing.Store(true)
	conns := s.reg.All()
	s.life.Unlock()
	for _, c := range conns {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
