package model

import "time"

// User carries the contact and location fields the notification engine
// reads. Account management lives in the CRUD layer and is not modeled here.
type User struct {
	ID    string `bson:"id" json:"id"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`

	// AssignedNumber is the provisioned outbound calling number. Voice
	// calls are only attempted when it is set.
	AssignedNumber string `bson:"assignedNumber,omitempty" json:"assigned_number,omitempty"`

	LastLocation   *Coordinates `bson:"lastLocation,omitempty" json:"last_location,omitempty"`
	LastLocationAt *time.Time   `bson:"lastLocationAt,omitempty" json:"last_location_at,omitempty"`
}
