package chat

import (
	"sync"
)

// PresenceSink hears about a user's first and last connection.
// Calls happen under the registry lock, in registry order, so a sink must
// hand the event off rather than do I/O inline.
type PresenceSink interface {
	Online(userID int64)
	Offline(userID int64)
}

type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[int64]*Conn // user -> conn_id -> conn
	byConn map[int64]*Conn           // conn_id -> conn
	sink   PresenceSink
}

func NewRegistry(sink PresenceSink) *Registry {
	return &Registry{
		byUser: make(map[int64]map[int64]*Conn),
		byConn: make(map[int64]*Conn),
		sink:   sink,
	}
}

// Register adds c under its user. Re-registering the same handle is a no-op.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	if _, ok := r.byConn[c.ID]; ok {
		r.mu.Unlock()
		return
	}
	m := r.byUser[c.UserID]
	first := len(m) == 0
	if m == nil {
		m = make(map[int64]*Conn)
		r.byUser[c.UserID] = m
	}
	m[c.ID] = c
	r.byConn[c.ID] = c
	if first && r.sink != nil {
		r.sink.Online(c.UserID)
	}
	r.mu.Unlock()
}

// Deregister removes c. It reports whether c was registered, so exactly one
// caller wins when a stream close and a stale write race.
func (r *Registry) Deregister(c *Conn) bool {
	removed, _ := r.remove(c)
	return removed
}

// remove also reports whether c was the user's last handle.
func (r *Registry) remove(c *Conn) (removed, last bool) {
	r.mu.Lock()
	if _, ok := r.byConn[c.ID]; !ok {
		r.mu.Unlock()
		return false, false
	}
	delete(r.byConn, c.ID)
	if m := r.byUser[c.UserID]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(r.byUser, c.UserID)
			last = true
		}
	}
	if last && r.sink != nil {
		r.sink.Offline(c.UserID)
	}
	r.mu.Unlock()
	return true, last
}

// Lookup returns a snapshot of the user's handles. Empty means offline.
func (r *Registry) Lookup(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Get(connID int64) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// All returns every open handle. Used by broadcast and shutdown.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

// Count returns the number of online users and open handles.
func (r *Registry) Count() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.byConn)
}

// PresenceSinks fans presence changes out to several sinks in order.
type PresenceSinks []PresenceSink

func (ps PresenceSinks) Online(userID int64) {
	for _, s := range ps {
		s.Online(userID)
	}
}

func (ps PresenceSinks) Offline(userID int64) {
	for _, s := range ps {
		s.Offline(userID)
	}
}
