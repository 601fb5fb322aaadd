// Package handlers exposes the HTTP surface: reminder and user CRUD, the
// engine's administrative controls, the call provider's status webhook and
// the real-time event stream.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"bizminder/internal/channel"
	"bizminder/internal/engine"
	"bizminder/internal/model"
	"bizminder/internal/storage"
)

type Handlers struct {
	store  storage.Storage
	engine *engine.Engine
	hub    *channel.Hub
	log    *logrus.Logger
}

func New(store storage.Storage, eng *engine.Engine, hub *channel.Hub, log *logrus.Logger) *Handlers {
	return &Handlers{store: store, engine: eng, hub: hub, log: log}
}

// RegisterRoutes attaches every endpoint to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/reminders", h.CreateReminder).Methods("POST")
	r.HandleFunc("/reminders/{id}", h.GetReminder).Methods("GET")
	r.HandleFunc("/reminders/{id}", h.DeleteReminder).Methods("DELETE")
	r.HandleFunc("/reminders/{id}/reset-notification", h.ResetNotification).Methods("POST")
	r.HandleFunc("/reminders/{id}/notifications", h.NotificationHistory).Methods("GET")

	r.HandleFunc("/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	r.HandleFunc("/users/{id}/location", h.UpdateUserLocation).Methods("POST")
	r.HandleFunc("/users/{id}/pending-reminders", h.PendingReminders).Methods("GET")

	r.HandleFunc("/engine/status", h.EngineStatus).Methods("GET")
	r.HandleFunc("/engine/time-loop/start", h.StartTimeLoop).Methods("POST")
	r.HandleFunc("/engine/time-loop/stop", h.StopTimeLoop).Methods("POST")
	r.HandleFunc("/engine/time-loop/run", h.RunTimePass).Methods("POST")
	r.HandleFunc("/engine/location-loop/start", h.StartLocationLoop).Methods("POST")
	r.HandleFunc("/engine/location-loop/stop", h.StopLocationLoop).Methods("POST")
	r.HandleFunc("/engine/location-loop/run", h.RunLocationPass).Methods("POST")

	r.HandleFunc("/twilio/call-status", h.CallStatusWebhook).Methods("POST")
	r.HandleFunc("/events/{userId}", h.EventStream).Methods("GET")
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handlers) logRequest(r *http.Request, status int) {
	h.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).Info("request handled")
}

// --- Reminder handlers ---

type createReminderRequest struct {
	Description  string             `json:"description"`
	OwnerID      string             `json:"owner_id"`
	TriggerTime  *time.Time         `json:"trigger_time,omitempty"`
	Coordinates  *model.Coordinates `json:"coordinates,omitempty"`
	LocationName *string            `json:"location_name,omitempty"`
}

func (h *Handlers) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if req.Description == "" || req.OwnerID == "" {
		http.Error(w, "description and owner_id are required", http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if req.TriggerTime == nil && req.Coordinates == nil {
		http.Error(w, "at least one of trigger_time or coordinates is required", http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if req.Coordinates != nil {
		if req.Coordinates.Latitude < -90 || req.Coordinates.Latitude > 90 ||
			req.Coordinates.Longitude < -180 || req.Coordinates.Longitude > 180 {
			http.Error(w, "coordinates out of range", http.StatusBadRequest)
			h.logRequest(r, http.StatusBadRequest)
			return
		}
	}
	if _, err := h.store.GetUser(req.OwnerID); err != nil {
		http.Error(w, "owner not found", http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}

	rem := &model.Reminder{
		ID:           uuid.NewString(),
		Description:  req.Description,
		OwnerID:      req.OwnerID,
		CreatedAt:    time.Now().UTC(),
		TriggerTime:  req.TriggerTime,
		Coordinates:  req.Coordinates,
		LocationName: req.LocationName,
		CallStatus:   model.CallNotCalled,
	}
	if err := h.store.CreateReminder(rem); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, rem)
	h.logRequest(r, http.StatusCreated)
}

func (h *Handlers) GetReminder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rem, err := h.store.GetReminder(id)
	if err != nil || rem.IsDeleted {
		http.NotFound(w, r)
		h.logRequest(r, http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, rem)
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.SoftDeleteReminder(id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			h.logRequest(r, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logRequest(r, http.StatusNoContent)
}

type resetNotificationRequest struct {
	Trigger model.TriggerType `json:"trigger"`
}

func (h *Handlers) ResetNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resetNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if req.Trigger != model.TriggerTime && req.Trigger != model.TriggerLocation {
		http.Error(w, "trigger must be \"time\" or \"location\"", http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if err := h.engine.ResetNotification(id, req.Trigger); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			h.logRequest(r, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logRequest(r, http.StatusNoContent)
}

func (h *Handlers) NotificationHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hist, err := h.engine.History(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			h.logRequest(r, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, hist)
	h.logRequest(r, http.StatusOK)
}

// --- User handlers ---

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := h.store.CreateUser(&u); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, &u)
	h.logRequest(r, http.StatusCreated)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, err := h.store.GetUser(id)
	if err != nil {
		http.NotFound(w, r)
		h.logRequest(r, http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
	h.logRequest(r, http.StatusOK)
}

// UpdateUserLocation records the owner's position and immediately runs one
// location pass so a reminder at the reported spot fires without waiting
// for the next scheduled tick.
func (h *Handlers) UpdateUserLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var loc model.Coordinates
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		http.Error(w, "coordinates out of range", http.StatusBadRequest)
		h.logRequest(r, http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateUserLocation(id, loc, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			h.logRequest(r, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	h.engine.RunLocationPassOnce()
	w.WriteHeader(http.StatusNoContent)
	h.logRequest(r, http.StatusNoContent)
}

func (h *Handlers) PendingReminders(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pending, err := h.engine.Pending(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.logRequest(r, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, pending)
	h.logRequest(r, http.StatusOK)
}

// --- Engine handlers ---

func (h *Handlers) EngineStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) StartTimeLoop(w http.ResponseWriter, r *http.Request) {
	h.engine.StartTimeLoop()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) StopTimeLoop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopTimeLoop()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) RunTimePass(w http.ResponseWriter, r *http.Request) {
	h.engine.RunTimePassOnce()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) StartLocationLoop(w http.ResponseWriter, r *http.Request) {
	h.engine.StartLocationLoop()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) StopLocationLoop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopLocationLoop()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

func (h *Handlers) RunLocationPass(w http.ResponseWriter, r *http.Request) {
	h.engine.RunLocationPassOnce()
	h.writeJSON(w, http.StatusOK, h.engine.Status())
	h.logRequest(r, http.StatusOK)
}

// --- Provider webhook ---

// CallStatusWebhook receives the call provider's form-encoded delivery
// status report. It always answers 200: the provider retries non-2xx
// responses and a malformed or stale report gains nothing from a retry.
func (h *Handlers) CallStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.log.WithError(err).Warn("unparseable call status webhook")
		w.WriteHeader(http.StatusOK)
		return
	}

	ref := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	if ref == "" || status == "" {
		h.log.Warn("call status webhook missing CallSid or CallStatus")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.engine.HandleCallStatus(ref, status, duration)
	w.WriteHeader(http.StatusOK)
	h.logRequest(r, http.StatusOK)
}

// --- Real-time events ---

func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	h.hub.Serve(w, r, userID)
}
