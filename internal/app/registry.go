package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/core"
)

// ConnRegistry maps connection ids to live sessions. It holds non-owning
// references: the signal adapter owns the sessions and unbinds them on
// close. Everything bound here has already authenticated.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]core.ConnSession
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[core.ConnID]core.ConnSession)}
}

func (r *ConnRegistry) Bind(sess core.ConnSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sess.ID()] = sess
	log.Info().Str("module", "app.registry").Str("conn", string(sess.ID())).Str("user", string(sess.User().ID)).Msg("bound session")
}

func (r *ConnRegistry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("unbound session")
}

func (r *ConnRegistry) Get(cid core.ConnID) (core.ConnSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.conns[cid]
	return s, ok
}

// Resolve maps connection ids to whatever sessions are still bound.
// Ids that raced a disconnect are simply skipped.
func (r *ConnRegistry) Resolve(cids []core.ConnID) []core.ConnSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnSession, 0, len(cids))
	for _, cid := range cids {
		if s, ok := r.conns[cid]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot copies the current session set for fan-out outside the lock.
func (r *ConnRegistry) Snapshot() []core.ConnSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnSession, 0, len(r.conns))
	for _, s := range r.conns {
		out = append(out, s)
	}
	return out
}

func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
