package handlers

import (
	"ChatRelay/service/chat"
)

// GroupHandler fans a message out to each listed receiver except the
// sender. Duplicate receivers get it once.
type GroupHandler struct{}

func (GroupHandler) Kinds() []chat.Kind { return []chat.Kind{chat.KindGroup} }

func (GroupHandler) Handle(ctx *chat.Context, src *chat.Conn, env *chat.Envelope) error {
	m, ok := env.Payload.(chat.GroupMessage)
	if !ok {
		return payloadMismatch(env)
	}
	var targets []*chat.Conn
	seen := make(map[int64]struct{}, len(m.Receivers))
	for _, r := range m.Receivers {
		if r.ID == 0 || r.ID == m.Sender.ID {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		targets = append(targets, ctx.Registry.Lookup(r.ID)...)
	}
	targets = without(targets, src)
	if len(targets) == 0 {
		return nil
	}
	_, err := ctx.DeliverAll(targets, &chat.Envelope{Kind: chat.KindGroup, Payload: m})
	return err
}
