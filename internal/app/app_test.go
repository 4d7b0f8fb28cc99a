package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
	"github.com/dkeye/Chatter/internal/metrics"
)

var errQueueFull = errors.New("queue full")

// fakeConn records every frame handed to it so tests can assert on
// delivery order and content.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errQueueFull
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) clear() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// kinds decodes the type tag of every recorded frame, in order.
func (f *fakeConn) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(fr, &env)
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeConn) decode(t *testing.T, i int, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.frames) {
		t.Fatalf("frame %d not recorded, have %d", i, len(f.frames))
	}
	if err := json.Unmarshal(f.frames[i], v); err != nil {
		t.Fatalf("decode frame %d: %v", i, err)
	}
}

type fakeSession struct {
	id   core.ConnID
	user *domain.User
	conn *fakeConn
}

func (s *fakeSession) ID() core.ConnID               { return s.id }
func (s *fakeSession) User() *domain.User            { return s.user }
func (s *fakeSession) Signal() core.SignalConnection { return s.conn }

type fixture struct {
	presence *PresenceTable
	rooms    *RoomRegistry
	conns    *ConnRegistry
	calls    *CallRelay
	router   *EventRouter
	metrics  *metrics.Metrics
}

func newFixture(pol Policy) *fixture {
	m := metrics.New(prometheus.NewRegistry())
	presence := NewPresenceTable(m)
	rooms := NewRoomRegistry()
	conns := NewConnRegistry()
	calls := NewCallRelay(presence, conns, m)
	return &fixture{
		presence: presence,
		rooms:    rooms,
		conns:    conns,
		calls:    calls,
		router:   NewEventRouter(presence, rooms, conns, calls, pol, m),
		metrics:  m,
	}
}

// connect opens a fake session for uid and registers it everywhere the
// controller would.
func (fx *fixture) connect(uid domain.UserID, cid core.ConnID) *fakeSession {
	sess := &fakeSession{
		id:   cid,
		user: &domain.User{ID: uid, Role: domain.RoleUser},
		conn: &fakeConn{},
	}
	fx.conns.Bind(sess)
	if ann := fx.presence.RegisterConnection(uid, cid); ann != nil {
		fx.router.AnnouncePresence(ann)
	}
	return sess
}

// disconnect mirrors the controller's teardown order.
func (fx *fixture) disconnect(sess *fakeSession) {
	fx.rooms.PurgeConnection(sess.id)
	ann := fx.presence.DeregisterConnection(sess.user.ID, sess.id)
	fx.conns.Unbind(sess.id)
	if ann != nil {
		fx.router.AnnouncePresence(ann)
	}
}
