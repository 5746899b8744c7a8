package filo

import "sync"

// registry tracks the live server-side connections together with the
// cancel of each connection's close observer. The lock only guards
// map mutation, it is never held across socket I/O.
type registry struct {
	lk    sync.RWMutex
	conns map[*Conn]func()
}

func newRegistry() *registry {
	return &registry{conns: make(map[*Conn]func())}
}

func (r *registry) add(c *Conn, cancel func()) {
	r.lk.Lock()
	r.conns[c] = cancel
	r.lk.Unlock()
}

// remove forgets the connection and detaches its close observer. It
// reports whether the connection was still registered, so the caller
// publishes at most one disconnection per connection.
func (r *registry) remove(c *Conn) bool {
	r.lk.Lock()
	cancel, has := r.conns[c]
	if has {
		delete(r.conns, c)
	}
	r.lk.Unlock()

	if has && cancel != nil {
		cancel()
	}
	return has
}

// snapshot returns a point-in-time copy owned by the caller.
func (r *registry) snapshot() []*Conn {
	r.lk.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	r.lk.RUnlock()
	return out
}

func (r *registry) size() int {
	r.lk.RLock()
	defer r.lk.RUnlock()
	return len(r.conns)
}
