package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
)

// RoomRegistry tracks which connections subscribed to which rooms.
// Join and Leave are idempotent; the reverse index makes disconnect
// cleanup O(rooms of that connection). Empty rooms are dropped.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[core.ConnID]struct{}
	byConn map[core.ConnID]map[domain.RoomID]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[domain.RoomID]map[core.ConnID]struct{}),
		byConn: make(map[core.ConnID]map[domain.RoomID]struct{}),
	}
}

func (r *RoomRegistry) Join(room domain.RoomID, cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[core.ConnID]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[cid]; ok {
		return
	}
	members[cid] = struct{}{}
	joined, ok := r.byConn[cid]
	if !ok {
		joined = make(map[domain.RoomID]struct{})
		r.byConn[cid] = joined
	}
	joined[room] = struct{}{}
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(cid)).Msg("joined")
}

func (r *RoomRegistry) Leave(room domain.RoomID, cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, cid)
}

func (r *RoomRegistry) leaveLocked(room domain.RoomID, cid core.ConnID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[cid]; !ok {
		return
	}
	delete(members, cid)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined, ok := r.byConn[cid]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, cid)
		}
	}
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(cid)).Msg("left")
}

// Members returns a copy of the room's connection set, possibly empty.
func (r *RoomRegistry) Members(room domain.RoomID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]core.ConnID, 0, len(members))
	for cid := range members {
		out = append(out, cid)
	}
	return out
}

// Contains reports membership of one connection.
func (r *RoomRegistry) Contains(room domain.RoomID, cid core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][cid]
	return ok
}

// PurgeConnection removes cid from every room it joined. Called exactly
// once per disconnect, before the connection handle is discarded.
func (r *RoomRegistry) PurgeConnection(cid core.ConnID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := r.byConn[cid]
	out := make([]domain.RoomID, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	for _, room := range out {
		r.leaveLocked(room, cid)
	}
	return out
}
