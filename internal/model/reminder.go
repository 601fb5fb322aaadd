package model

import "time"

// TriggerType is one of the two independent ways a reminder can fire.
type TriggerType string

const (
	TriggerTime     TriggerType = "time"
	TriggerLocation TriggerType = "location"
)

// CallStatus tracks the outcome of the most recent voice call attempt.
type CallStatus string

const (
	CallNotCalled CallStatus = "not_called"
	CallCalling   CallStatus = "calling"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
	CallNoAnswer  CallStatus = "no_answer"
	CallBusy      CallStatus = "busy"
	CallCancelled CallStatus = "cancelled"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Reminder is the central entity. A reminder may carry a trigger time, a
// location, or both; the two trigger types are evaluated and notified
// independently of each other.
type Reminder struct {
	ID          string    `bson:"id" json:"id"`
	Description string    `bson:"description" json:"description"`
	OwnerID     string    `bson:"ownerId" json:"owner_id"`
	CreatedAt   time.Time `bson:"createdAt" json:"created_at"`

	Coordinates  *Coordinates `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
	LocationName *string      `bson:"locationName,omitempty" json:"location_name,omitempty"`
	TriggerTime  *time.Time   `bson:"triggerTime,omitempty" json:"trigger_time,omitempty"`

	TimeNotified       bool       `bson:"timeNotified" json:"time_notified"`
	TimeNotifiedAt     *time.Time `bson:"timeNotifiedAt,omitempty" json:"time_notified_at,omitempty"`
	LocationNotified   bool       `bson:"locationNotified" json:"location_notified"`
	LocationNotifiedAt *time.Time `bson:"locationNotifiedAt,omitempty" json:"location_notified_at,omitempty"`

	CallAttempts      int        `bson:"callAttempts" json:"call_attempts"`
	LastCallAttemptAt *time.Time `bson:"lastCallAttemptAt,omitempty" json:"last_call_attempt_at,omitempty"`
	CallStatus        CallStatus `bson:"callStatus" json:"call_status"`
	ActiveCallRef     string     `bson:"activeCallRef,omitempty" json:"active_call_ref,omitempty"`

	IsDeleted bool       `bson:"isDeleted" json:"is_deleted"`
	DeletedAt *time.Time `bson:"deletedAt,omitempty" json:"deleted_at,omitempty"`
}

// Notified reports whether the given trigger type has already fired.
func (r *Reminder) Notified(trigger TriggerType) bool {
	if trigger == TriggerLocation {
		return r.LocationNotified
	}
	return r.TimeNotified
}

// NotifiedAt returns the timestamp recorded when the given trigger fired,
// or nil if it has not fired.
func (r *Reminder) NotifiedAt(trigger TriggerType) *time.Time {
	if trigger == TriggerLocation {
		return r.LocationNotifiedAt
	}
	return r.TimeNotifiedAt
}
