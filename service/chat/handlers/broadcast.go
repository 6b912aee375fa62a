package handlers

import (
	"ChatRelay/service/chat"
)

// BroadcastHandler sends the frame as received to every open handle,
// the sender's included.
type BroadcastHandler struct{}

func (BroadcastHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindBroadcast} }

func (BroadcastHandler) Handle(ctx *chat.Context, _ *chat.Conn, env *chat.Envelope) error {
	all := ctx.Registry.All()
	if len(all) == 0 {
		return nil
	}
	_, err := ctx.DeliverAll(all, env)
	return err
}
