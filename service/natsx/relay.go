package natsx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

const (
	BizIngress  = "relay.ingress"
	BizPresence = "relay.presence"
)

// Injector accepts a wire frame from outside the websocket layer.
type Injector interface {
	Inject(ctx context.Context, raw []byte) error
}

// publisher is the part of NatsManager the presence events need.
type publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// IngressRoute says where server-originated frames come from.
type IngressRoute struct {
	Subject string
	Queue   string
	Mode    NatsxMode
	Durable string // JetStream only
}

// ServeIngress routes every message on the ingress subject into dst as if a
// client had sent it. Under JetStream a frame that failed for a reason other
// than its own content is nacked and redelivered; malformed or unroutable
// frames are acked and dropped.
func ServeIngress(ctx context.Context, m *NatsManager, in IngressRoute, dst Injector) error {
	route := NatsxRoute{Biz: BizIngress, Subject: in.Subject, Mode: in.Mode, Queue: in.Queue}
	if in.Mode == JetStreamPush {
		route.Durable = in.Durable
		route.MaxDeliver = 5
	}
	if err := m.RegisterRoute(route); err != nil {
		return err
	}
	return m.Subscribe(ctx, BizIngress, ingressHandler(dst))
}

func ingressHandler(dst Injector) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		err := dst.Inject(ctx, msg.Data)
		if err == nil || errs.ErrDecode.Is(err) || errs.ErrRouteMiss.Is(err) || errs.ErrLookupMiss.Is(err) {
			return nil
		}
		return err
	}
}

// PresenceEvent is published when a user's first handle opens or the last
// one closes on this node.
type PresenceEvent struct {
	UserID int64  `json:"userId"`
	Online bool   `json:"online"`
	Node   string `json:"node"`
	At     int64  `json:"at"`  // unix ms
	Seq    uint64 `json:"seq"` // per node, increasing
}

// msgID is stable for one transition so a republished event is deduplicated.
func (ev PresenceEvent) msgID() string {
	return fmt.Sprintf("presence-%s-%d-%d-%d", ev.Node, ev.UserID, ev.At, ev.Seq)
}

// PresencePublisher announces presence changes on a subject. Online and
// Offline queue the event; Run publishes them in the order they happened.
type PresencePublisher struct {
	pub     publisher
	node    string
	timeout time.Duration
	log     *zap.Logger

	mu    sync.Mutex
	seq   uint64
	queue []PresenceEvent
	wake  chan struct{}
}

func NewPresencePublisher(m *NatsManager, subject string, nodeID int64) (*PresencePublisher, error) {
	if err := m.RegisterRoute(NatsxRoute{Biz: BizPresence, Subject: subject, Mode: Core}); err != nil {
		return nil, err
	}
	return newPresencePublisher(m, strconv.FormatInt(nodeID, 10)), nil
}

func newPresencePublisher(pub publisher, node string) *PresencePublisher {
	return &PresencePublisher{
		pub:     pub,
		node:    node,
		timeout: 2 * time.Second,
		log:     logger.Named("nats"),
		wake:    make(chan struct{}, 1),
	}
}

func (p *PresencePublisher) Online(userID int64)  { p.emit(userID, true) }
func (p *PresencePublisher) Offline(userID int64) { p.emit(userID, false) }

func (p *PresencePublisher) emit(userID int64, online bool) {
	ev := PresenceEvent{UserID: userID, Online: online, Node: p.node, At: time.Now().UnixMilli()}
	p.mu.Lock()
	p.seq++
	ev.Seq = p.seq
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PresencePublisher) drain() {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, ev := range batch {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err = p.pub.PublishOnce(ctx, BizPresence, b, nil, ev.msgID())
		cancel()
		if err != nil {
			p.log.Warn("presence publish failed", zap.Int64("user", ev.UserID), zap.Bool("online", ev.Online), zap.Error(err))
		}
	}
}

// Run publishes queued events until ctx is done, then flushes what is left.
func (p *PresencePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case <-p.wake:
			p.drain()
		}
	}
}
