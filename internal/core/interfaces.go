package core

import (
	"time"

	"github.com/dkeye/Chatter/internal/domain"
)

// Frame is a marshaled wire event, ready for the transport.
type Frame []byte

// ConnID identifies one transport session. A user may hold several
// (multiple tabs or devices), each with its own ConnID.
type ConnID string

// SignalConnection abstracts the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ConnSession binds a verified user and its transport endpoint.
// This is what the registries store and the router fans out to.
type ConnSession interface {
	ID() ConnID
	User() *domain.User
	Signal() SignalConnection
}

// PresenceEntry is a read-only view of one user's presence.
// Conns is a copy; mutating it does not touch the table.
type PresenceEntry struct {
	UserID   domain.UserID `json:"userId"`
	Status   domain.Status `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
	Conns    []ConnID      `json:"-"`
}

// Online reports whether the entry has at least one live connection.
func (e PresenceEntry) Online() bool {
	return len(e.Conns) > 0
}
