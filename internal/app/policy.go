package app

import (
	"sync"
	"time"

	"github.com/dkeye/Chatter/internal/domain"
)

// Policy decides whether a user may post into a room. Room-level ACLs
// live in the CRUD service; what remains here is local protection such
// as rate limiting. Denials go back to the sender only, never broadcast.
type Policy interface {
	AllowPost(uid domain.UserID, room domain.RoomID) bool
}

type AllowAll struct{}

func (AllowAll) AllowPost(domain.UserID, domain.RoomID) bool { return true }

// RatePolicy allows at most limit posts per user within interval,
// sliding window.
type RatePolicy struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewRatePolicy(limit int, interval time.Duration) *RatePolicy {
	return &RatePolicy{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RatePolicy) AllowPost(uid domain.UserID, _ domain.RoomID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[uid] = fresh

	return true
}
