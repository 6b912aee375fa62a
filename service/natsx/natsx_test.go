package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ChatRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/tj/assert"
	"go.uber.org/zap"
)

func TestMemIdemTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	mi := NewMemIdem(time.Minute)
	mi.now = func() time.Time { return now }

	seen, err := mi.SeenOnce("a", 0)
	assert.Nil(t, err)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce("a", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = mi.SeenOnce("a", 0)
	assert.False(t, seen)
}

func TestIdemMiddleware(t *testing.T) {
	calls := 0
	h := IdemMiddleware(NewMemIdem(time.Minute), 0)(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	})
	ctx := context.Background()
	dup := NatsxMessage{Data: []byte("x"), Header: map[string]string{"Nats-Msg-Id": "m1"}}
	assert.Nil(t, h(ctx, dup))
	assert.Nil(t, h(ctx, dup))
	// no id: same body is delivered every time
	assert.Nil(t, h(ctx, NatsxMessage{Data: []byte("x")}))
	assert.Nil(t, h(ctx, NatsxMessage{Data: []byte("x")}))
	assert.Equal(t, 3, calls)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))
	assert.Nil(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestLogMiddlewareRecovers(t *testing.T) {
	h := LogMiddleware(zap.NewNop())(func(context.Context, NatsxMessage) error {
		panic("bad frame")
	})
	err := h(context.Background(), NatsxMessage{Subject: "s"})
	assert.NotNil(t, err)

	want := errors.New("x")
	h = LogMiddleware(zap.NewNop())(func(context.Context, NatsxMessage) error { return want })
	assert.Equal(t, want, h(context.Background(), NatsxMessage{}))
}

type published struct {
	data  []byte
	msgID string
}

type chanPublisher struct {
	ch    chan published
	delay time.Duration
}

func (c chanPublisher) PublishOnce(_ context.Context, biz string, data []byte, _ map[string]string, msgID string) error {
	if biz != BizPresence {
		return errors.New("wrong biz " + biz)
	}
	time.Sleep(c.delay)
	c.ch <- published{data: data, msgID: msgID}
	return nil
}

func runPublisher(t *testing.T, p *PresencePublisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func nextEvent(t *testing.T, ch chan published) (PresenceEvent, string) {
	t.Helper()
	select {
	case m := <-ch:
		var ev PresenceEvent
		assert.Nil(t, json.Unmarshal(m.data, &ev))
		return ev, m.msgID
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
		return PresenceEvent{}, ""
	}
}

func TestPresencePublisher(t *testing.T) {
	pub := chanPublisher{ch: make(chan published, 2)}
	p := newPresencePublisher(pub, "3")
	runPublisher(t, p)
	p.Online(42)

	ev, id := nextEvent(t, pub.ch)
	assert.Equal(t, int64(42), ev.UserID)
	assert.True(t, ev.Online)
	assert.Equal(t, "3", ev.Node)
	assert.Equal(t, ev.msgID(), id)
	assert.True(t, strings.HasPrefix(id, "presence-3-42-"))
}

func TestPresencePublisherKeepsOrder(t *testing.T) {
	pub := chanPublisher{ch: make(chan published, 8), delay: 20 * time.Millisecond}
	p := newPresencePublisher(pub, "1")
	runPublisher(t, p)

	p.Online(7)
	p.Offline(7)
	p.Online(7)
	p.Offline(7)

	seen := map[string]bool{}
	for i, want := range []bool{true, false, true, false} {
		ev, id := nextEvent(t, pub.ch)
		assert.Equal(t, want, ev.Online, "event %d", i)
		seen[id] = true
	}
	assert.Equal(t, 4, len(seen))
}

type fakeInjector struct{ err error }

func (f fakeInjector) Inject(context.Context, []byte) error { return f.err }

func TestIngressHandlerRetriesOnlyTransient(t *testing.T) {
	ctx := context.Background()
	msg := NatsxMessage{Subject: "relay.ingress", Data: []byte(`{}`)}

	assert.Nil(t, ingressHandler(fakeInjector{})(ctx, msg))
	assert.Nil(t, ingressHandler(fakeInjector{err: errs.ErrDecode.WrapMsg("bad json")})(ctx, msg))
	assert.Nil(t, ingressHandler(fakeInjector{err: errs.ErrRouteMiss.WrapMsg("no handler")})(ctx, msg))
	assert.NotNil(t, ingressHandler(fakeInjector{err: errs.ErrDeliveryIO.WrapMsg("queue full")})(ctx, msg))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	assert.Nil(t, err)
	assert.Equal(t, Core, m)
	m, err = ParseMode(" JetStream ")
	assert.Nil(t, err)
	assert.Equal(t, JetStreamPush, m)
	_, err = ParseMode("pull")
	assert.NotNil(t, err)
}

func TestMessageHeaders(t *testing.T) {
	h := nats.Header{}
	h.Add("Nats-Msg-Id", "m1")
	h.Add("Nats-Msg-Id", "m2")
	m := toMessage(&nats.Msg{Subject: "relay.ingress", Data: []byte("{}"), Header: h})
	assert.Equal(t, "m1", msgIDFromHeader(m.Header))
	assert.Equal(t, "m3", msgIDFromHeader(map[string]string{"X-Msg-Id": "m3"}))
	assert.Equal(t, "", msgIDFromHeader(nil))
	assert.Nil(t, headerToMap(nil))
}
