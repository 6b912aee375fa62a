package handlers

import (
	"ChatRelay/service/chat"

	"go.uber.org/zap"
)

// DirectHandler relays a one-to-one message to every handle of the
// receiver. The receiver is looked up by receiver.id; the outbound copy has
// both parties re-addressed by their user_id.
type DirectHandler struct{}

func (DirectHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindDirect} }

func (DirectHandler) Handle(ctx *chat.Context, src *chat.Conn, env *chat.Envelope) error {
	m, ok := env.Payload.(chat.DirectMessage)
	if !ok {
		return payloadMismatch(env)
	}
	if m.Receiver.ID == m.Sender.ID {
		ctx.Log.Debug("direct message to self dropped", zap.Int64("user", m.Sender.ID))
		return nil
	}
	targets := without(ctx.Registry.Lookup(m.Receiver.ID), src)
	if len(targets) == 0 {
		ctx.Log.Debug("receiver offline", zap.Int64("user", m.Receiver.ID))
		return nil
	}
	m.Sender, m.Receiver = m.Sender.Canonical(), m.Receiver.Canonical()
	_, err := ctx.DeliverAll(targets, &chat.Envelope{Kind: chat.KindDirect, Payload: m})
	return err
}
