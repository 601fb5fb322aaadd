// Package channel abstracts the three notification transports: email,
// voice call and real-time push. Each adapter is independent; a failure in
// one never affects the others.
package channel

import (
	"context"
	"time"

	"bizminder/internal/model"
)

// Payload is the notification content delivered on every channel.
type Payload struct {
	ReminderID   string            `json:"reminder_id"`
	Description  string            `json:"description"`
	LocationName string            `json:"location_name,omitempty"`
	Trigger      model.TriggerType `json:"trigger"`
	FiredAt      time.Time         `json:"fired_at"`
}

// EmailMessage is a rendered message ready to hand to the email provider.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailSender sends a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// CallRequest describes an outbound voice call. The provider speaks Message
// to the callee and posts delivery status to StatusCallbackURL.
type CallRequest struct {
	To                string
	From              string
	Message           string
	StatusCallbackURL string
}

// CallResult is the provider's view of a call, either from a status
// callback or from an explicit status fetch.
type CallResult struct {
	Status   string
	Duration int // seconds; 0 until the call completes
}

// VoiceCaller places calls and fetches their current status. PlaceCall
// returns an opaque provider reference used to correlate later status
// reports.
type VoiceCaller interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	CallStatus(ctx context.Context, ref string) (CallResult, error)
}

// Pusher emits a real-time event addressed to one user's session channel.
type Pusher interface {
	EmitToUser(userID, event string, payload any) error
}
