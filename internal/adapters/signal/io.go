package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/app"
	"github.com/dkeye/Chatter/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *Session) {
	c := sess.conn
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump closing")
		ctl.teardown(sess)
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	// Pongs must arrive within one ping period plus grace, or the peer is
	// considered gone.
	pongWait := ctl.Cfg.PingPeriod + ctl.Cfg.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump read error")
				}
				return
			}
			ctl.handleEvent(sess, data)
		}
	}
}

// handleEvent decodes and dispatches one inbound frame. Failures are
// reported to the sender and dropped; they never close the connection.
func (ctl *SignalWSController) handleEvent(sess *Session, data []byte) {
	if !sess.is(stateActive) {
		return
	}
	kind, err := protocol.DecodeKind(data)
	if err != nil {
		ctl.Metrics.MalformedTotal.Inc()
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("bad json")
		ctl.sendEvent(sess, protocol.NewError("bad_payload"))
		return
	}
	if err := ctl.Router.Dispatch(sess, kind, data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Str("kind", string(kind)).Msg("event dropped")
		ctl.sendEvent(sess, protocol.NewError(clientError(err)))
	}
}

func clientError(err error) string {
	switch {
	case errors.Is(err, app.ErrForbidden):
		return "forbidden"
	case errors.Is(err, app.ErrUnknownEvent):
		return "unknown_event"
	default:
		return "bad_payload"
	}
}
