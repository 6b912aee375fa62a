package natsx

import (
	"context"
	"sync"
	"time"
)

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// MemIdem is a single-process IdemStore.
type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &MemIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

// Sweep drops expired keys every interval until ctx is done.
func (mi *MemIdem) Sweep(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := mi.now()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if !exp.After(now) {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware skips messages whose Nats-Msg-Id was already handled.
// Messages without an id always pass; frame bodies repeat legitimately.
func IdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			if seen, _ := store.SeenOnce(id, ttl); seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
