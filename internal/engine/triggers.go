package engine

import (
	"errors"

	"github.com/sirupsen/logrus"

	"bizminder/internal/geo"
	"bizminder/internal/model"
	"bizminder/internal/storage"
)

// runTimePass evaluates the time predicate: every reminder whose trigger
// time has passed and whose time flag is still clear gets one notification
// cycle.
func (e *Engine) runTimePass() {
	candidates, err := e.store.DueTimeReminders(e.now())
	if err != nil {
		e.log.WithError(err).Error("time pass: candidate query failed")
		return
	}

	for _, rem := range candidates {
		if !e.guard.Reserve(rem.ID, model.TriggerTime) {
			continue
		}
		e.runCandidate(rem, model.TriggerTime)
		e.guard.Release(rem.ID, model.TriggerTime)
	}
}

// runLocationPass evaluates the location predicate against each owner's
// most recently reported location.
func (e *Engine) runLocationPass() {
	candidates, err := e.store.LocationCandidates()
	if err != nil {
		e.log.WithError(err).Error("location pass: candidate query failed")
		return
	}

	owners := make(map[string]*model.User)
	missing := make(map[string]bool)
	for _, rem := range candidates {
		if missing[rem.OwnerID] {
			e.markOrphaned(rem, model.TriggerLocation)
			continue
		}
		owner, ok := owners[rem.OwnerID]
		if !ok {
			var err error
			owner, err = e.store.GetUser(rem.OwnerID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					// Same treatment as the time path: an orphaned
					// reminder can never dispatch, stop re-querying it.
					missing[rem.OwnerID] = true
					e.markOrphaned(rem, model.TriggerLocation)
				} else {
					e.log.WithError(err).WithField("owner", rem.OwnerID).Error("location pass: owner lookup failed")
					owners[rem.OwnerID] = nil
				}
				continue
			}
			owners[rem.OwnerID] = owner
		}
		if owner == nil || owner.LastLocation == nil {
			continue
		}
		if !geo.Near(*owner.LastLocation, *rem.Coordinates) {
			continue
		}

		if !e.guard.Reserve(rem.ID, model.TriggerLocation) {
			continue
		}
		e.runCandidate(rem, model.TriggerLocation)
		e.guard.ReleaseAfter(rem.ID, model.TriggerLocation, locationRetriggerGrace)
	}
}

// markOrphaned records a reminder whose owner record is gone as notified so
// it stops surfacing every pass.
func (e *Engine) markOrphaned(rem *model.Reminder, trigger model.TriggerType) {
	e.log.WithFields(logrus.Fields{
		"reminder": rem.ID,
		"owner":    rem.OwnerID,
		"trigger":  trigger,
	}).Warn("owner not found, marking notified without dispatch")
	if err := e.store.MarkNotified(rem.ID, trigger, e.now()); err != nil {
		e.log.WithError(err).Error("failed to mark reminder notified")
	}
}

// runCandidate contains one candidate's processing so that a failure,
// including a panic inside a channel adapter, cannot take down the
// scheduler loop or starve the remaining candidates of the tick.
func (e *Engine) runCandidate(rem *model.Reminder, trigger model.TriggerType) {
	defer func() {
		if p := recover(); p != nil {
			e.log.WithFields(logrus.Fields{
				"reminder": rem.ID,
				"trigger":  trigger,
			}).Errorf("panic while processing reminder: %v", p)
		}
	}()
	e.processReminder(rem, trigger)
}
