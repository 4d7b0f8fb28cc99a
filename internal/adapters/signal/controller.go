package signal

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/app"
	"github.com/dkeye/Chatter/internal/auth"
	"github.com/dkeye/Chatter/internal/config"
	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
	"github.com/dkeye/Chatter/internal/metrics"
	"github.com/dkeye/Chatter/internal/protocol"
)

// SignalWSController accepts websocket connections, runs the handshake
// and owns every session's lifecycle. Registries and router are injected;
// the controller is the only component that creates or closes sessions.
type SignalWSController struct {
	Router   *app.EventRouter
	Presence *app.PresenceTable
	Rooms    *app.RoomRegistry
	Conns    *app.ConnRegistry
	Verifier auth.Verifier
	Metrics  *metrics.Metrics
	Cfg      *config.Config

	upgrader websocket.Upgrader
}

func NewSignalWSController(
	router *app.EventRouter,
	presence *app.PresenceTable,
	rooms *app.RoomRegistry,
	conns *app.ConnRegistry,
	verifier auth.Verifier,
	m *metrics.Metrics,
	cfg *config.Config,
) *SignalWSController {
	ctl := &SignalWSController{
		Router:   router,
		Presence: presence,
		Rooms:    rooms,
		Conns:    conns,
		Verifier: verifier,
		Metrics:  m,
		Cfg:      cfg,
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	ctl.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
	return ctl
}

// HandleSignal runs the connection handshake: credential first, upgrade
// second. A bad credential is rejected with 401 before any event can be
// processed and leaves no state behind.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	credential := c.Query("token")
	if credential == "" {
		credential = bearerToken(c.GetHeader("Authorization"))
	}
	identity, err := ctl.Verifier.Verify(c.Request.Context(), credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("handshake rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	user := &domain.User{ID: identity.UserID, Role: identity.Role}
	conn := newWSConn(ws, ctl.Cfg.SendBuffer)
	sess := newSession(core.ConnID(uuid.NewString()), user, conn)
	log.Info().Str("module", "signal").Str("conn", string(sess.ID())).Str("user", string(user.ID)).Msg("new WS connection")

	sess.setState(stateAuthenticated)
	ctl.Conns.Bind(sess)
	ctl.Metrics.OpenConnections.Inc()
	if ann := ctl.Presence.RegisterConnection(user.ID, sess.ID()); ann != nil {
		ctl.Router.AnnouncePresence(ann)
	}
	ctl.sendSnapshot(sess)
	sess.setState(stateActive)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess)
}

// Kick terminates a session from outside its read loop. Safe to race the
// transport close: whichever caller claims the close runs the cleanup.
func (ctl *SignalWSController) Kick(cid core.ConnID) bool {
	cs, ok := ctl.Conns.Get(cid)
	if !ok {
		return false
	}
	sess, ok := cs.(*Session)
	if !ok {
		return false
	}
	log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("kick")
	ctl.teardown(sess)
	return true
}

// teardown runs the Closed-state effects exactly once, in order: purge
// room membership, deregister presence, then announce offline if that was
// the user's last connection. The window between purge and deregister is
// deliberate; a racing room broadcast may or may not reach this
// connection and either outcome is acceptable.
func (ctl *SignalWSController) teardown(sess *Session) {
	if !sess.beginClose() {
		return
	}
	rooms := ctl.Rooms.PurgeConnection(sess.ID())
	ann := ctl.Presence.DeregisterConnection(sess.User().ID, sess.ID())
	ctl.Conns.Unbind(sess.ID())
	ctl.Metrics.OpenConnections.Dec()
	sess.conn.Close()
	if ann != nil {
		ctl.Router.AnnouncePresence(ann)
	}
	log.Info().
		Str("module", "signal").
		Str("conn", string(sess.ID())).
		Str("user", string(sess.User().ID)).
		Int("rooms_purged", len(rooms)).
		Bool("went_offline", ann != nil).
		Msg("session closed")
}

// sendSnapshot hands the fresh connection the current online roster so
// the client can render presence without a round trip per user.
func (ctl *SignalWSController) sendSnapshot(sess *Session) {
	online := ctl.Presence.Online()
	snap := protocol.PresenceSnapshot{
		Type:  protocol.KindPresenceSnapshot,
		Users: make([]protocol.PresenceState, 0, len(online)),
	}
	for _, e := range online {
		snap.Users = append(snap.Users, protocol.PresenceState{
			UserID:   e.UserID,
			Status:   e.Status,
			LastSeen: e.LastSeen,
		})
	}
	ctl.sendEvent(sess, snap)
}

func (ctl *SignalWSController) sendEvent(sess *Session, v any) {
	frame, err := protocol.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal event")
		return
	}
	_ = sess.conn.TrySend(frame)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
