package handlers

import (
	"ChatRelay/service/chat"
)

// KeyExchangeHandler forwards key signals to the receiver. Key material is
// not inspected.
type KeyExchangeHandler struct{}

func (KeyExchangeHandler) Kinds() []chat.Kind {
	return []chat.Kind{chat.KindKeyRequest, chat.KindKeyAccept, chat.KindKeyRevoke}
}

func (KeyExchangeHandler) Handle(ctx *chat.Context, _ *chat.Conn, env *chat.Envelope) error {
	k, ok := env.Payload.(chat.KeySignal)
	if !ok {
		return payloadMismatch(env)
	}
	if k.ReceiverID == k.SenderID {
		return nil
	}
	return forward(ctx, k.ReceiverID, env)
}
