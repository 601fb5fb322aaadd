package engine

import (
	"sync"
	"time"

	"bizminder/internal/model"
)

type guardKey struct {
	reminderID string
	trigger    model.TriggerType
}

type guardEntry struct {
	active    bool
	holdUntil time.Time
}

// inflightGuard prevents the same (reminder, trigger) pair from being
// processed twice concurrently. Location triggers additionally hold their
// slot for a grace window after release so location jitter cannot re-fire a
// reminder the moment its flag is reset.
//
// State lives only in process memory; a restart forgets every reservation.
type inflightGuard struct {
	mu      sync.Mutex
	entries map[guardKey]guardEntry
	now     func() time.Time
}

func newInflightGuard(now func() time.Time) *inflightGuard {
	return &inflightGuard{
		entries: make(map[guardKey]guardEntry),
		now:     now,
	}
}

// Reserve claims the pair for processing. It fails while an earlier
// reservation is active or an unexpired grace hold remains.
func (g *inflightGuard) Reserve(reminderID string, trigger model.TriggerType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := guardKey{reminderID, trigger}
	if e, ok := g.entries[k]; ok {
		if e.active || g.now().Before(e.holdUntil) {
			return false
		}
	}
	g.entries[k] = guardEntry{active: true}
	return true
}

// Release drops the reservation entirely.
func (g *inflightGuard) Release(reminderID string, trigger model.TriggerType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, guardKey{reminderID, trigger})
}

// ReleaseAfter ends the active reservation but keeps the slot blocked until
// the grace window elapses.
func (g *inflightGuard) ReleaseAfter(reminderID string, trigger model.TriggerType, grace time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[guardKey{reminderID, trigger}] = guardEntry{holdUntil: g.now().Add(grace)}
}

// InFlight counts active reservations, sweeping out expired grace holds
// along the way.
func (g *inflightGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	count := 0
	for k, e := range g.entries {
		switch {
		case e.active:
			count++
		case !now.Before(e.holdUntil):
			delete(g.entries, k)
		}
	}
	return count
}
