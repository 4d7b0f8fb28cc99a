package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
	"github.com/dkeye/Chatter/internal/metrics"
)

// AnnounceKind tells the caller which lifecycle broadcast a presence
// mutation produced, if any.
type AnnounceKind int

const (
	AnnounceOnline AnnounceKind = iota
	AnnounceOffline
	AnnounceStatus
)

// Announce is a side-effect instruction returned by the table. The table
// itself never talks to connections; the router broadcasts on its behalf.
type Announce struct {
	Kind     AnnounceKind
	UserID   domain.UserID
	Status   domain.Status
	LastSeen time.Time
}

type presenceEntry struct {
	mu       sync.Mutex
	status   domain.Status
	lastSeen time.Time
	conns    map[core.ConnID]struct{}
}

// PresenceTable maps users to their live connections. The outer map is
// guarded only for entry lookup; every mutation serializes on the entry's
// own lock, so registering one user never blocks broadcasts touching
// another. Entries flip to offline when their last connection goes, they
// are never deleted.
type PresenceTable struct {
	mu      sync.RWMutex
	entries map[domain.UserID]*presenceEntry
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewPresenceTable(m *metrics.Metrics) *PresenceTable {
	return &PresenceTable{
		entries: make(map[domain.UserID]*presenceEntry),
		metrics: m,
		now:     time.Now,
	}
}

func (p *PresenceTable) entry(uid domain.UserID) *presenceEntry {
	p.mu.RLock()
	e, ok := p.entries[uid]
	p.mu.RUnlock()
	if ok {
		return e
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok = p.entries[uid]; ok {
		return e
	}
	e = &presenceEntry{
		status: domain.StatusOffline,
		conns:  make(map[core.ConnID]struct{}),
	}
	p.entries[uid] = e
	return e
}

// RegisterConnection adds cid to the user's active set. The first live
// connection flips the user online and returns an announce instruction;
// further tabs return nil.
func (p *PresenceTable) RegisterConnection(uid domain.UserID, cid core.ConnID) *Announce {
	e := p.entry(uid)
	e.mu.Lock()
	defer e.mu.Unlock()

	wasEmpty := len(e.conns) == 0
	e.conns[cid] = struct{}{}
	if !wasEmpty {
		return nil
	}
	e.status = domain.StatusOnline
	if p.metrics != nil {
		p.metrics.OnlineUsers.Inc()
	}
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user online")
	return &Announce{Kind: AnnounceOnline, UserID: uid, Status: domain.StatusOnline}
}

// DeregisterConnection removes cid. When the active set drains, the user
// flips offline, last-seen is stamped, and the offline announce carrying
// that stamp is returned.
func (p *PresenceTable) DeregisterConnection(uid domain.UserID, cid core.ConnID) *Announce {
	e := p.entry(uid)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[cid]; !ok {
		return nil
	}
	delete(e.conns, cid)
	if len(e.conns) > 0 {
		return nil
	}
	e.status = domain.StatusOffline
	e.lastSeen = p.now()
	if p.metrics != nil {
		p.metrics.OnlineUsers.Dec()
	}
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Time("last_seen", e.lastSeen).Msg("user offline")
	return &Announce{Kind: AnnounceOffline, UserID: uid, Status: domain.StatusOffline, LastSeen: e.lastSeen}
}

// SetStatus overrides the advertised status without touching the
// connection set. Unknown users are a no-op: only a live session can ask
// for a status change.
func (p *PresenceTable) SetStatus(uid domain.UserID, status domain.Status) *Announce {
	p.mu.RLock()
	e, ok := p.entries[uid]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("status", string(status)).Msg("status override")
	return &Announce{Kind: AnnounceStatus, UserID: uid, Status: status}
}

func (p *PresenceTable) Lookup(uid domain.UserID) (core.PresenceEntry, bool) {
	p.mu.RLock()
	e, ok := p.entries[uid]
	p.mu.RUnlock()
	if !ok {
		return core.PresenceEntry{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(uid, e), true
}

// Online lists all users currently holding at least one connection.
func (p *PresenceTable) Online() []core.PresenceEntry {
	p.mu.RLock()
	uids := make([]domain.UserID, 0, len(p.entries))
	es := make([]*presenceEntry, 0, len(p.entries))
	for uid, e := range p.entries {
		uids = append(uids, uid)
		es = append(es, e)
	}
	p.mu.RUnlock()

	out := make([]core.PresenceEntry, 0, len(es))
	for i, e := range es {
		e.mu.Lock()
		if len(e.conns) > 0 {
			out = append(out, snapshotLocked(uids[i], e))
		}
		e.mu.Unlock()
	}
	return out
}

func snapshotLocked(uid domain.UserID, e *presenceEntry) core.PresenceEntry {
	conns := make([]core.ConnID, 0, len(e.conns))
	for cid := range e.conns {
		conns = append(conns, cid)
	}
	return core.PresenceEntry{UserID: uid, Status: e.status, LastSeen: e.lastSeen, Conns: conns}
}
