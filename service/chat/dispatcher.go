package chat

import (
	"ChatRelay/tools/errs"
	"ChatRelay/tools/safe"
)

// Handler serves one or more envelope kinds. src is nil for frames that
// did not come from a client stream (ingress, close propagation).
type Handler interface {
	Kinds() []Kind
	Handle(ctx *Context, src *Conn, env *Envelope) error
}

type Dispatcher struct {
	handlers map[Kind]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]Handler)}
}

// Register binds h to each of its kinds; a later registration wins.
func (d *Dispatcher) Register(h Handler) {
	for _, k := range h.Kinds() {
		d.handlers[k] = h
	}
}

func (d *Dispatcher) GetHandler(k Kind) Handler {
	return d.handlers[k]
}

// Dispatch runs the single handler for env.Kind. A missing handler is a
// RouteMiss and a handler panic comes back as an error.
func (d *Dispatcher) Dispatch(ctx *Context, src *Conn, env *Envelope) (err error) {
	h, ok := d.handlers[env.Kind]
	if !ok {
		return errs.ErrRouteMiss.WrapMsg("no handler", "kind", env.Kind.String())
	}
	defer safe.Recover("dispatch "+env.Kind.String(), func(perr error) { err = perr })
	return h.Handle(ctx, src, env)
}
