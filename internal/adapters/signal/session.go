package signal

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
)

// Session lifecycle. Transitions only move forward; Closed is terminal.
type sessionState int32

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateActive
	stateClosed
)

// Session is one live transport session bound to a verified user. It
// implements core.ConnSession; the registries hold it by reference and
// never close it, the controller owns the lifecycle.
type Session struct {
	id        core.ConnID
	user      *domain.User
	conn      *wsConn
	createdAt time.Time

	state atomic.Int32
}

func newSession(id core.ConnID, user *domain.User, conn *wsConn) *Session {
	s := &Session{
		id:        id,
		user:      user,
		conn:      conn,
		createdAt: time.Now(),
	}
	s.state.Store(int32(stateConnecting))
	return s
}

func (s *Session) ID() core.ConnID               { return s.id }
func (s *Session) User() *domain.User            { return s.user }
func (s *Session) Signal() core.SignalConnection { return s.conn }
func (s *Session) CreatedAt() time.Time          { return s.createdAt }

func (s *Session) setState(st sessionState) {
	s.state.Store(int32(st))
}

func (s *Session) is(st sessionState) bool {
	return sessionState(s.state.Load()) == st
}

// beginClose claims the right to run the Closed-state side effects.
// Exactly one caller wins when the read loop and an external kick race;
// the loser sees false and must not touch presence or rooms.
func (s *Session) beginClose() bool {
	for {
		cur := s.state.Load()
		if sessionState(cur) == stateClosed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(stateClosed)) {
			return true
		}
	}
}
