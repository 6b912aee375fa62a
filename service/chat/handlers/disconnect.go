package handlers

import (
	"ChatRelay/service/chat"

	"go.uber.org/zap"
)

// DisconnectHandler tells the sender's online friends that the sender left.
// Friends come from the payload, or from the friend store when the payload
// has none.
type DisconnectHandler struct{}

func (DisconnectHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindDisconnect} }

func (DisconnectHandler) Handle(ctx *chat.Context, _ *chat.Conn, env *chat.Envelope) error {
	m, ok := env.Payload.(chat.Disconnect)
	if !ok {
		return payloadMismatch(env)
	}
	friends := make([]int64, 0, len(m.Friends))
	for _, f := range m.Friends {
		friends = append(friends, f.ID)
	}
	if len(friends) == 0 && ctx.Friends != nil {
		var err error
		if friends, err = ctx.Friends.Friends(ctx, m.Sender.ID); err != nil {
			ctx.Log.Warn("friend lookup failed", zap.Int64("user", m.Sender.ID), zap.Error(err))
			return err
		}
	}

	notice := &chat.Envelope{Kind: chat.KindDisconnect, Payload: chat.DisconnectNotice{Sender: m.Sender.ID}}
	seen := make(map[int64]struct{}, len(friends))
	for _, id := range friends {
		if id == 0 || id == m.Sender.ID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := forward(ctx, id, notice); err != nil {
			ctx.Log.Debug("disconnect notice not delivered", zap.Int64("friend", id), zap.Error(err))
		}
	}
	return nil
}
