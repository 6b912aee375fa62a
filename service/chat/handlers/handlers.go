// Package handlers holds one delivery strategy per envelope kind.
package handlers

import (
	"ChatRelay/service/chat"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// RegisterAll binds every handler whose kinds belong to proto.
func RegisterAll(d *chat.Dispatcher, proto *chat.Protocol) {
	all := []chat.Handler{
		DirectHandler{},
		GroupHandler{},
		PresenceHandler{},
		DisconnectHandler{},
		BroadcastHandler{},
		MuteHandler{},
		KeyExchangeHandler{},
	}
	for _, h := range all {
		kinds := make([]chat.Kind, 0, len(h.Kinds()))
		for _, k := range h.Kinds() {
			if _, ok := proto.Wire(k); ok {
				kinds = append(kinds, k)
			}
		}
		if len(kinds) == 0 {
			continue
		}
		d.Register(only{Handler: h, kinds: kinds})
	}
}

// only narrows a handler to the kinds the active protocol defines.
type only struct {
	chat.Handler
	kinds []chat.Kind
}

func (o only) Kinds() []chat.Kind { return o.kinds }

func without(conns []*chat.Conn, skip *chat.Conn) []*chat.Conn {
	if skip == nil {
		return conns
	}
	out := conns[:0]
	for _, c := range conns {
		if c != skip {
			out = append(out, c)
		}
	}
	return out
}

// forward sends env unmodified to every handle of userID. Offline is not
// an error.
func forward(ctx *chat.Context, userID int64, env *chat.Envelope) error {
	_, err := ctx.DeliverUser(userID, env)
	if errs.ErrLookupMiss.Is(err) {
		ctx.Log.Debug("receiver offline", zap.Int64("user", userID), zap.Stringer("kind", env.Kind))
		return nil
	}
	return err
}

func payloadMismatch(env *chat.Envelope) error {
	return errs.ErrInternal.WrapMsg("unexpected payload", "kind", env.Kind.String())
}
