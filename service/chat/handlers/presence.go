package handlers

import (
	"ChatRelay/service/chat"
)

// PresenceHandler answers which friends are online. The reply goes back on
// src when src belongs to the sender, otherwise to every handle of the sender.
type PresenceHandler struct{}

func (PresenceHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindPresence} }

func (PresenceHandler) Handle(ctx *chat.Context, src *chat.Conn, env *chat.Envelope) error {
	m, ok := env.Payload.(chat.PresenceCheck)
	if !ok {
		return payloadMismatch(env)
	}
	res := chat.PresenceResult{Sender: m.Sender, Friends: make([]chat.FriendStatus, 0, len(m.Friends))}
	ids := make([]int64, 0, len(m.Friends))
	for _, f := range m.Friends {
		res.Friends = append(res.Friends, chat.FriendStatus{Party: f, Online: ctx.Registry.IsOnline(f.ID)})
		if f.ID != 0 {
			ids = append(ids, f.ID)
		}
	}
	reply := &chat.Envelope{Kind: chat.KindPresence, Payload: res}
	if src != nil && src.UserID == m.Sender.ID {
		src.RememberFriends(ids)
		_, err := ctx.DeliverAll([]*chat.Conn{src}, reply)
		return err
	}
	return forward(ctx, m.Sender.ID, reply)
}
