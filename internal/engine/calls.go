package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bizminder/internal/channel"
	"bizminder/internal/model"
	"bizminder/internal/storage"
)

// dispatchCall places one voice call attempt for the reminder. Each attempt
// increments the counter, replaces the active call reference, and arms a
// delayed status poll in case the provider's callback never arrives.
func (e *Engine) dispatchCall(rem *model.Reminder, owner *model.User) {
	logger := e.log.WithFields(logrus.Fields{
		"reminder": rem.ID,
		"attempt":  rem.CallAttempts + 1,
	})

	if rem.CallAttempts >= maxCallAttempts {
		logger.Debug("call attempts exhausted, not dialing")
		return
	}

	now := e.now()
	attempts := rem.CallAttempts + 1

	ref, err := e.voice.PlaceCall(context.Background(), channel.CallRequest{
		To:                owner.Phone,
		From:              owner.AssignedNumber,
		Message:           rem.Description,
		StatusCallbackURL: e.callbackURL,
	})
	if err != nil {
		logger.WithError(err).Error("call placement failed")
		state := storage.CallState{
			Status:        model.CallFailed,
			Attempts:      attempts,
			LastAttemptAt: &now,
		}
		if err := e.store.UpdateCallState(rem.ID, state); err != nil {
			logger.WithError(err).Error("failed to record call placement failure")
			return
		}
		rem.CallAttempts = attempts
		rem.CallStatus = model.CallFailed
		rem.ActiveCallRef = ""
		if attempts < maxCallAttempts {
			e.scheduleRetry(rem.ID, "", attempts)
		}
		return
	}
	if ref == "" {
		// Providers always return a reference; synthesize one so the
		// correlation guard still works if this ever changes.
		ref = uuid.NewString()
	}

	state := storage.CallState{
		Status:        model.CallCalling,
		Attempts:      attempts,
		LastAttemptAt: &now,
		ActiveCallRef: ref,
	}
	if err := e.store.UpdateCallState(rem.ID, state); err != nil {
		logger.WithError(err).Error("failed to record call dispatch")
		return
	}
	rem.CallAttempts = attempts
	rem.CallStatus = model.CallCalling
	rem.ActiveCallRef = ref

	logger.WithField("callRef", ref).Info("voice call placed")
	e.schedule(callPollDelay, func() { e.pollCallStatus(rem.ID, ref) })
}

// pollCallStatus is the delayed defensive check that runs when no status
// callback has resolved the call yet.
func (e *Engine) pollCallStatus(reminderID, ref string) {
	logger := e.log.WithFields(logrus.Fields{"reminder": reminderID, "callRef": ref})

	rem, err := e.store.GetReminder(reminderID)
	if err != nil {
		logger.WithError(err).Error("call poll: reminder lookup failed")
		return
	}
	if rem.ActiveCallRef != ref || rem.CallStatus != model.CallCalling {
		// A callback or a newer attempt got here first.
		return
	}

	res, err := e.voice.CallStatus(context.Background(), ref)
	if err != nil {
		logger.WithError(err).Error("call poll: status fetch failed")
		return
	}
	e.resolveCall(rem, ref, res.Status, res.Duration)
}

// HandleCallStatus is the reactive path driven by the provider's delivery
// status webhook. Reports that reference an unknown or superseded call are
// ignored.
func (e *Engine) HandleCallStatus(ref, status string, duration int) {
	rem, err := e.store.GetReminderByCallRef(ref)
	if err != nil {
		e.log.WithField("callRef", ref).Debug("status callback for unknown call reference, ignoring")
		return
	}
	e.resolveCall(rem, ref, status, duration)
}

// resolveCall classifies a call report and schedules a bounded retry for
// non-completed outcomes.
func (e *Engine) resolveCall(rem *model.Reminder, ref, providerStatus string, duration int) {
	logger := e.log.WithFields(logrus.Fields{
		"reminder": rem.ID,
		"callRef":  ref,
		"status":   providerStatus,
		"duration": duration,
	})

	if rem.ActiveCallRef != ref {
		logger.Debug("stale call report, ignoring")
		return
	}

	if isLiveCallStatus(providerStatus) {
		// The call is still in progress; check back shortly.
		logger.Debug("call still live, re-arming status poll")
		e.schedule(callPollDelay, func() { e.pollCallStatus(rem.ID, ref) })
		return
	}

	outcome := classifyCallOutcome(providerStatus, duration)
	state := storage.CallState{
		Status:        outcome,
		Attempts:      rem.CallAttempts,
		LastAttemptAt: rem.LastCallAttemptAt,
		ActiveCallRef: ref,
	}
	if err := e.store.UpdateCallState(rem.ID, state); err != nil {
		logger.WithError(err).Error("failed to record call outcome")
		return
	}

	if outcome == model.CallCompleted {
		logger.Info("call completed")
		return
	}

	if rem.CallAttempts < maxCallAttempts {
		logger.WithField("retryIn", callRetryDelay).Info("call did not complete, retry scheduled")
		e.scheduleRetry(rem.ID, ref, rem.CallAttempts)
	} else {
		logger.Info("call did not complete, attempts exhausted")
	}
}

// scheduleRetry arms a delayed re-dial. When the timer fires the reminder's
// state may have moved on, so the closure re-checks the call reference and
// attempt counter before dialing again.
func (e *Engine) scheduleRetry(reminderID, expectRef string, expectAttempts int) {
	e.schedule(callRetryDelay, func() {
		logger := e.log.WithField("reminder", reminderID)

		rem, err := e.store.GetReminder(reminderID)
		if err != nil {
			logger.WithError(err).Error("call retry: reminder lookup failed")
			return
		}
		if rem.IsDeleted {
			return
		}
		if expectRef != "" && rem.ActiveCallRef != expectRef {
			logger.Debug("call retry superseded by a newer attempt")
			return
		}
		if rem.CallAttempts != expectAttempts || rem.CallAttempts >= maxCallAttempts {
			return
		}

		owner, err := e.store.GetUser(rem.OwnerID)
		if err != nil {
			logger.WithError(err).Error("call retry: owner lookup failed")
			return
		}
		if owner.Phone == "" || owner.AssignedNumber == "" {
			return
		}
		e.dispatchCall(rem, owner)
	})
}

// isLiveCallStatus reports whether the provider status describes a call
// that has not finished yet.
func isLiveCallStatus(status string) bool {
	switch status {
	case "queued", "initiated", "ringing", "in-progress":
		return true
	}
	return false
}

// classifyCallOutcome maps a terminal provider status onto the reminder's
// call state. A zero-duration "completed" call means the callee never
// actually heard the message, so it counts as no answer.
func classifyCallOutcome(status string, duration int) model.CallStatus {
	switch status {
	case "completed":
		if duration > 0 {
			return model.CallCompleted
		}
		return model.CallNoAnswer
	case "no-answer":
		return model.CallNoAnswer
	case "busy":
		return model.CallBusy
	case "canceled":
		return model.CallCancelled
	default:
		return model.CallFailed
	}
}
