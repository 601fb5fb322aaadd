package engine

import (
	"time"

	"bizminder/internal/model"
)

// NotificationHistory reports both trigger types' notified state for one
// reminder.
type NotificationHistory struct {
	ReminderID         string     `json:"reminder_id"`
	TimeNotified       bool       `json:"time_notified"`
	TimeNotifiedAt     *time.Time `json:"time_notified_at,omitempty"`
	LocationNotified   bool       `json:"location_notified"`
	LocationNotifiedAt *time.Time `json:"location_notified_at,omitempty"`
}

// PendingReminders partitions a user's active reminders into groups that
// can still fire.
type PendingReminders struct {
	TimePending     []*model.Reminder `json:"time_pending"`
	LocationPending []*model.Reminder `json:"location_pending"`
}

// ResetNotification is the administrative override that clears a trigger's
// notified flag so it can fire again. Call attempt bookkeeping is left
// untouched.
func (e *Engine) ResetNotification(reminderID string, trigger model.TriggerType) error {
	return e.store.ResetNotified(reminderID, trigger)
}

// History returns the reminder's notification history.
func (e *Engine) History(reminderID string) (*NotificationHistory, error) {
	rem, err := e.store.GetReminder(reminderID)
	if err != nil {
		return nil, err
	}
	return &NotificationHistory{
		ReminderID:         rem.ID,
		TimeNotified:       rem.TimeNotified,
		TimeNotifiedAt:     rem.TimeNotifiedAt,
		LocationNotified:   rem.LocationNotified,
		LocationNotifiedAt: rem.LocationNotifiedAt,
	}, nil
}

// Pending lists the user's reminders that have not yet fired, grouped per
// trigger type. A hybrid reminder can appear in both groups.
func (e *Engine) Pending(userID string) (*PendingReminders, error) {
	reminders, err := e.store.ListRemindersByOwner(userID)
	if err != nil {
		return nil, err
	}

	pending := &PendingReminders{
		TimePending:     []*model.Reminder{},
		LocationPending: []*model.Reminder{},
	}
	for _, rem := range reminders {
		if rem.TriggerTime != nil && !rem.TimeNotified {
			pending.TimePending = append(pending.TimePending, rem)
		}
		if rem.Coordinates != nil && !rem.LocationNotified {
			pending.LocationPending = append(pending.LocationPending, rem)
		}
	}
	return pending, nil
}
