package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/domain"
	"github.com/dkeye/Chatter/internal/metrics"
	"github.com/dkeye/Chatter/internal/protocol"
)

// CallRelay forwards events addressed to one user. It keeps no call
// state: each envelope is looked up, fanned out to the target's live
// connections and forgotten. An offline target means a silent drop; the
// caller is expected to run its own timeout.
type CallRelay struct {
	Presence *PresenceTable
	Conns    *ConnRegistry
	Metrics  *metrics.Metrics
}

func NewCallRelay(p *PresenceTable, conns *ConnRegistry, m *metrics.Metrics) *CallRelay {
	return &CallRelay{Presence: p, Conns: conns, Metrics: m}
}

// Relay delivers event to every live connection of the target user and
// returns how many send queues accepted it.
func (cr *CallRelay) Relay(to domain.UserID, kind protocol.Kind, event any) int {
	entry, ok := cr.Presence.Lookup(to)
	if !ok || !entry.Online() {
		cr.Metrics.Dropped(string(kind), metrics.ReasonUnreachable)
		log.Debug().Str("module", "app.calls").Str("to", string(to)).Str("kind", string(kind)).Msg("target unreachable")
		return 0
	}
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("kind", string(kind)).Msg("marshal relay event")
		return 0
	}
	sessions := cr.Conns.Resolve(entry.Conns)
	if len(sessions) == 0 {
		// Presence said online but every connection raced a disconnect.
		cr.Metrics.Dropped(string(kind), metrics.ReasonConnGone)
		return 0
	}
	delivered := 0
	for _, cs := range sessions {
		if err := cs.Signal().TrySend(frame); err != nil {
			cr.Metrics.Dropped(string(kind), metrics.ReasonBackpressure)
			continue
		}
		cr.Metrics.Delivered(string(kind))
		delivered++
	}
	return delivered
}
