package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ChatRelay/global/config"

	"github.com/nats-io/nats.go"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core          NatsxMode = iota // 无持久化
	JetStreamPush                  // JS 推送订阅
)

// NatsxRoute binds a business name to a subject.
type NatsxRoute struct {
	Biz           string
	Subject       string
	Mode          NatsxMode
	Queue         string // 队列组, empty means every node gets every message
	Durable       string // JS durable name
	AckWait       time.Duration
	MaxAckPending int
	MaxDeliver    int // JS, 0 = server default
}

// ParseMode maps the config spelling to a mode. Empty is Core.
func ParseMode(s string) (NatsxMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "core":
		return Core, nil
	case "jetstream":
		return JetStreamPush, nil
	default:
		return Core, fmt.Errorf("unknown nats mode %q", s)
	}
}

// NatsxClient 统一客户端
type NatsxClient struct {
	nc *nats.Conn
	js nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]NatsxRoute         // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

// NewNatsxClient connects to cfg.Servers and keeps reconnecting forever.
func NewNatsxClient(cfg config.NatsConfig, extra ...nats.Option) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	opts = append(opts, extra...)
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsxClient{
		nc:     nc,
		routes: make(map[string]NatsxRoute),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close drains subscriptions and the connection.
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream()
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.Mode == JetStreamPush {
		if err := c.ensureJS(); err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
