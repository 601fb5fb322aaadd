package storage

import (
	"errors"
	"time"

	"bizminder/internal/model"
)

// ErrNotFound is returned when an operation references a document that does
// not exist. The API layer maps it to a 404.
var ErrNotFound = errors.New("not found")

// CallState is the per-reminder voice call bookkeeping written by the call
// tracker on every dispatch and on every delivery status transition.
type CallState struct {
	Status        model.CallStatus
	Attempts      int
	LastAttemptAt *time.Time
	ActiveCallRef string
}

// Storage defines the interface for data persistence for reminders and the
// user fields the notification engine reads.
type Storage interface {
	// Reminder operations
	CreateReminder(r *model.Reminder) error
	GetReminder(id string) (*model.Reminder, error)
	GetReminderByCallRef(ref string) (*model.Reminder, error)
	ListRemindersByOwner(ownerID string) ([]*model.Reminder, error)
	SoftDeleteReminder(id string, at time.Time) error

	// Trigger candidate queries. Both exclude soft-deleted reminders and
	// reminders already notified for the trigger type in question.
	DueTimeReminders(now time.Time) ([]*model.Reminder, error)
	LocationCandidates() ([]*model.Reminder, error)

	// Notification state
	MarkNotified(id string, trigger model.TriggerType, at time.Time) error
	ResetNotified(id string, trigger model.TriggerType) error

	// Call state
	UpdateCallState(id string, state CallState) error

	// User operations
	CreateUser(u *model.User) error
	GetUser(id string) (*model.User, error)
	UpdateUserLocation(id string, loc model.Coordinates, at time.Time) error
}
