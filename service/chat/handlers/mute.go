package handlers

import (
	"ChatRelay/service/chat"
)

type MuteHandler struct{}

func (MuteHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindMute, chat.KindUnmute} }

func (MuteHandler) Handle(ctx *chat.Context, _ *chat.Conn, env *chat.Envelope) error {
	m, ok := env.Payload.(chat.MuteNotice)
	if !ok {
		return payloadMismatch(env)
	}
	return forward(ctx, m.ReceiverID, env)
}
