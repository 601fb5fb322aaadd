// Package engine implements the reminder notification engine: periodic
// trigger evaluation, multi-channel dispatch, call status tracking with
// bounded retries, and in-flight deduplication.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bizminder/internal/channel"
	"bizminder/internal/model"
	"bizminder/internal/storage"
)

const (
	timeTickInterval     = 10 * time.Second
	locationTickInterval = 5 * time.Minute

	// locationRetriggerGrace keeps a location slot blocked after a
	// successful notification so GPS jitter around the boundary cannot
	// fire the reminder again right away.
	locationRetriggerGrace = 5 * time.Minute

	maxCallAttempts = 2
	callRetryDelay  = 60 * time.Second

	// callPollDelay is when the tracker proactively fetches call status,
	// a defense against a missed provider callback. It sits just past
	// the ring timeout so an unanswered call has already been abandoned.
	callPollDelay = 35 * time.Second
)

// Engine is the process-wide reminder notification service. Construct one
// per process and share it by reference.
type Engine struct {
	store storage.Storage
	email channel.EmailSender
	voice channel.VoiceCaller
	push  channel.Pusher
	log   *logrus.Logger

	// callbackURL is the public address the call provider posts delivery
	// status to.
	callbackURL string

	guard        *inflightGuard
	timeLoop     *loop
	locationLoop *loop

	// Injection points for tests.
	now      func() time.Time
	schedule func(time.Duration, func())
}

func New(store storage.Storage, email channel.EmailSender, voice channel.VoiceCaller, push channel.Pusher, callbackURL string, log *logrus.Logger) *Engine {
	e := &Engine{
		store:       store,
		email:       email,
		voice:       voice,
		push:        push,
		log:         log,
		callbackURL: callbackURL,
		now:         time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	e.guard = newInflightGuard(func() time.Time { return e.now() })
	e.timeLoop = newLoop("time", timeTickInterval, e.runTimePass, log)
	e.locationLoop = newLoop("location", locationTickInterval, e.runLocationPass, log)
	return e
}

// Status is the operational snapshot returned by the status query.
type Status struct {
	TimeLoopRunning     bool `json:"timeLoopRunning"`
	LocationLoopRunning bool `json:"locationLoopRunning"`
	InFlightCount       int  `json:"inFlightCount"`
}

func (e *Engine) StartTimeLoop()     { e.timeLoop.Start() }
func (e *Engine) StopTimeLoop()      { e.timeLoop.Stop() }
func (e *Engine) StartLocationLoop() { e.locationLoop.Start() }
func (e *Engine) StopLocationLoop()  { e.locationLoop.Stop() }

// Stop halts both loops. Delayed call polls and retries already scheduled
// keep their timers.
func (e *Engine) Stop() {
	e.timeLoop.Stop()
	e.locationLoop.Stop()
}

func (e *Engine) Status() Status {
	return Status{
		TimeLoopRunning:     e.timeLoop.Running(),
		LocationLoopRunning: e.locationLoop.Running(),
		InFlightCount:       e.guard.InFlight(),
	}
}

// RunTimePassOnce performs exactly one time-trigger evaluation pass,
// independent of the loop's own schedule.
func (e *Engine) RunTimePassOnce() { e.runTimePass() }

// RunLocationPassOnce performs exactly one location-trigger evaluation pass.
func (e *Engine) RunLocationPassOnce() { e.runLocationPass() }

// processReminder dispatches all channels for a fired trigger and records
// the notified flag. Channel failures are logged and isolated; the flag is
// set regardless, because email is treated as the reliable fallback and the
// trigger must not re-fire on every subsequent tick.
func (e *Engine) processReminder(rem *model.Reminder, trigger model.TriggerType) {
	logger := e.log.WithFields(logrus.Fields{
		"reminder": rem.ID,
		"trigger":  trigger,
	})

	owner, err := e.store.GetUser(rem.OwnerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Orphaned reminder: no channels can ever succeed.
			e.markOrphaned(rem, trigger)
			return
		}
		logger.WithError(err).Error("failed to load owner, will retry next tick")
		return
	}

	payload := channel.Payload{
		ReminderID:  rem.ID,
		Description: rem.Description,
		Trigger:     trigger,
		FiredAt:     e.now(),
	}
	if rem.LocationName != nil {
		payload.LocationName = *rem.LocationName
	}

	if e.email != nil && owner.Email != "" {
		msg := buildEmail(owner.Email, payload)
		if err := e.email.SendEmail(context.Background(), msg); err != nil {
			logger.WithError(err).Error("email channel failed")
		}
	}

	if e.voice != nil && owner.Phone != "" && owner.AssignedNumber != "" {
		e.dispatchCall(rem, owner)
	}

	if e.push != nil {
		if err := e.push.EmitToUser(owner.ID, "reminder", payload); err != nil {
			logger.WithError(err).Error("push channel failed")
		}
	}

	if err := e.store.MarkNotified(rem.ID, trigger, e.now()); err != nil {
		logger.WithError(err).Error("failed to mark reminder notified")
		return
	}
	logger.Info("reminder notified")
}

// buildEmail renders the notification email for a fired trigger.
func buildEmail(to string, p channel.Payload) channel.EmailMessage {
	subject := fmt.Sprintf("Reminder: %s", p.Description)
	body := p.Description
	if p.Trigger == model.TriggerLocation && p.LocationName != "" {
		body = fmt.Sprintf("%s (near %s)", p.Description, p.LocationName)
	}
	return channel.EmailMessage{
		To:      to,
		Subject: subject,
		Text:    body,
		HTML:    fmt.Sprintf("<p>%s</p>", body),
	}
}
