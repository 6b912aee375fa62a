package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// presence key: im:presence:<user>
// value: node id of the relay holding the user, TTL bounds a crashed node
func presenceKey(userID int64) string { return "im:presence:" + strconv.FormatInt(userID, 10) }

// Only delete the key if this node still owns it.
// KEYS[1] = presence key
// ARGV[1] = node id
// returns 1 deleted, 0 missing or owned by another node
var luaReleaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the slice of *redis.Client the mirror uses.
type Client interface {
	redis.Scripter
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Presence mirrors the local registry's online users into redis so other
// services can ask whether a user is connected. Online and Offline only
// record the change; Run writes it, one user at a time, latest state wins.
type Presence struct {
	rdb     Client
	node    string
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	users   map[int64]struct{}
	pending map[int64]bool // user -> online, not yet written
	wake    chan struct{}
}

func NewPresence(rdb Client, node string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Presence{
		rdb:     rdb,
		node:    node,
		ttl:     ttl,
		timeout: 2 * time.Second,
		log:     logger.Named("presence"),
		users:   make(map[int64]struct{}),
		pending: make(map[int64]bool),
		wake:    make(chan struct{}, 1),
	}
}

func (p *Presence) Online(userID int64)  { p.mark(userID, true) }
func (p *Presence) Offline(userID int64) { p.mark(userID, false) }

func (p *Presence) mark(userID int64, online bool) {
	p.mu.Lock()
	if online {
		p.users[userID] = struct{}{}
	} else {
		delete(p.users, userID)
	}
	p.pending[userID] = online
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// take hands over the pending changes.
func (p *Presence) take() map[int64]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.pending
	p.pending = make(map[int64]bool)
	return batch
}

// flush writes every pending change. A change marked while flush runs is
// picked up by the next call.
func (p *Presence) flush() {
	for id, online := range p.take() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		var err error
		if online {
			err = p.set(ctx, id)
		} else {
			err = p.release(ctx, id)
		}
		cancel()
		if err != nil {
			p.log.Warn("presence write failed", zap.Int64("user", id), zap.Bool("online", online), zap.Error(err))
		}
	}
}

func (p *Presence) set(ctx context.Context, userID int64) error {
	return p.rdb.Set(ctx, presenceKey(userID), p.node, p.ttl).Err()
}

func (p *Presence) release(ctx context.Context, userID int64) error {
	return luaReleaseOwned.Run(ctx, p.rdb, []string{presenceKey(userID)}, p.node).Err()
}

// Lookup reports which node holds userID, if any.
func (p *Presence) Lookup(ctx context.Context, userID int64) (node string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(err)
	}
	return val, true, nil
}

func (p *Presence) snapshot() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	return out
}

// Refresh renews the TTL of every locally online user.
func (p *Presence) Refresh(ctx context.Context) error {
	for _, id := range p.snapshot() {
		if err := p.set(ctx, id); err != nil {
			return errs.WrapMsg(err, "presence refresh", "user", id)
		}
	}
	return nil
}

// Run writes presence changes as they happen and refreshes at a third of
// the TTL until ctx is done, then releases every key this node may own.
func (p *Presence) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			ids := p.snapshot()
			for id := range p.take() {
				ids = append(ids, id)
			}
			for _, id := range ids {
				_ = p.release(cctx, id)
			}
			return nil
		case <-p.wake:
			p.flush()
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.log.Warn("presence refresh failed", zap.Error(err))
			}
		}
	}
}
