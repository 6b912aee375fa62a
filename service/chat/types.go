package chat

import (
	"context"

	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// FriendSource resolves a user's friend ids.
type FriendSource interface {
	Friends(ctx context.Context, userID int64) ([]int64, error)
}

// Context is what a Handler gets to work with.
type Context struct {
	context.Context
	Registry *Registry
	Codec    *Codec
	Friends  FriendSource // may be nil
	Log      *zap.Logger

	onStale func(*Conn)
}

// Deliver writes env to one handle. A failed write drops the handle as an
// implicit disconnect and the error is returned.
func (c *Context) Deliver(to *Conn, env *Envelope) error {
	b, err := c.Codec.Encode(env)
	if err != nil {
		return err
	}
	return c.deliverBytes(to, b)
}

func (c *Context) deliverBytes(to *Conn, b []byte) error {
	if err := to.Send(b); err != nil {
		c.Log.Info("stale handle dropped",
			zap.Int64("conn", to.ID), zap.Int64("user", to.UserID), zap.Error(err))
		if c.onStale != nil {
			c.onStale(to)
		}
		return err
	}
	return nil
}

// DeliverUser writes env to every open handle of userID and returns how many
// took it. An offline user is ErrLookupMiss, which callers drop silently.
func (c *Context) DeliverUser(userID int64, env *Envelope) (int, error) {
	targets := c.Registry.Lookup(userID)
	if len(targets) == 0 {
		return 0, errs.ErrLookupMiss.WrapMsg("user offline", "user", userID)
	}
	return c.DeliverAll(targets, env)
}

// DeliverAll encodes env once and writes it to each target. Stale handles
// are skipped; the returned error is the last write failure, if any.
func (c *Context) DeliverAll(targets []*Conn, env *Envelope) (int, error) {
	b, err := c.Codec.Encode(env)
	if err != nil {
		return 0, err
	}
	n := 0
	var last error
	for _, t := range targets {
		if err := c.deliverBytes(t, b); err != nil {
			last = err
			continue
		}
		n++
	}
	return n, last
}
