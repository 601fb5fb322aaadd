package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"bizminder/internal/channel"
	"bizminder/internal/engine"
	"bizminder/internal/model"
	"bizminder/internal/storage"
)

type nullEmail struct{}

func (nullEmail) SendEmail(_ context.Context, _ channel.EmailMessage) error { return nil }

type nullVoice struct {
	placed int
}

func (v *nullVoice) PlaceCall(_ context.Context, _ channel.CallRequest) (string, error) {
	v.placed++
	return fmt.Sprintf("CA%d", v.placed), nil
}

func (v *nullVoice) CallStatus(_ context.Context, _ string) (channel.CallResult, error) {
	return channel.CallResult{}, nil
}

func setupRouter(t *testing.T) (*mux.Router, storage.Storage) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := storage.NewMemoryStorage()
	hub := channel.NewHub(log)
	eng := engine.New(store, nullEmail{}, &nullVoice{}, hub, "https://app.example.com/twilio/call-status", log)

	r := mux.NewRouter()
	New(store, eng, hub, log).RegisterRoutes(r)
	return r, store
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postForm(t *testing.T, r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTestUser(t *testing.T, store storage.Storage, id string) {
	t.Helper()
	err := store.CreateUser(&model.User{
		ID:             id,
		Email:          id + "@example.com",
		Phone:          "+15551230001",
		AssignedNumber: "+15559990001",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func createTimeReminder(t *testing.T, store storage.Storage, id, owner string, due time.Time) {
	t.Helper()
	err := store.CreateReminder(&model.Reminder{
		ID:          id,
		Description: "x",
		OwnerID:     owner,
		TriggerTime: &due,
		CallStatus:  model.CallNotCalled,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetReminder(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")

	due := time.Now().Add(time.Hour).UTC()
	w := doJSON(t, r, "POST", "/reminders", map[string]any{
		"description":  "water the plants",
		"owner_id":     "usr1",
		"trigger_time": due,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}

	var created model.Reminder
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Description != "water the plants" {
		t.Errorf("unexpected created reminder: %+v", created)
	}
	if created.CallStatus != model.CallNotCalled {
		t.Errorf("new reminder call status = %s", created.CallStatus)
	}

	if w := doJSON(t, r, "GET", "/reminders/"+created.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("get returned %d", w.Code)
	}
}

func TestCreateReminderValidation(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing description", map[string]any{"owner_id": "usr1", "trigger_time": time.Now()}},
		{"missing owner", map[string]any{"description": "x", "trigger_time": time.Now()}},
		{"no trigger at all", map[string]any{"description": "x", "owner_id": "usr1"}},
		{"unknown owner", map[string]any{"description": "x", "owner_id": "ghost", "trigger_time": time.Now()}},
		{"latitude out of range", map[string]any{
			"description": "x", "owner_id": "usr1",
			"coordinates": map[string]float64{"latitude": 91, "longitude": 0},
		}},
	}
	for _, c := range cases {
		if w := doJSON(t, r, "POST", "/reminders", c.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", c.name, w.Code)
		}
	}
}

func TestDeleteReminderIsSoft(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().UTC())

	if w := doJSON(t, r, "DELETE", "/reminders/rem1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/reminders/rem1", nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted reminder still visible, got %d", w.Code)
	}

	rem, err := store.GetReminder("rem1")
	if err != nil {
		t.Fatal("soft deleted reminder gone from storage")
	}
	if !rem.IsDeleted || rem.DeletedAt == nil {
		t.Errorf("soft delete flags missing: %+v", rem)
	}

	if w := doJSON(t, r, "DELETE", "/reminders/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete of unknown reminder returned %d", w.Code)
	}
}

func TestResetNotificationEndpoint(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().Add(-time.Minute).UTC())
	if err := store.MarkNotified("rem1", model.TriggerTime, time.Now()); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, "POST", "/reminders/rem1/reset-notification", map[string]string{"trigger": "time"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset returned %d: %s", w.Code, w.Body.String())
	}
	rem, _ := store.GetReminder("rem1")
	if rem.TimeNotified {
		t.Error("reset did not clear the flag")
	}

	w = doJSON(t, r, "POST", "/reminders/rem1/reset-notification", map[string]string{"trigger": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus trigger returned %d, want 400", w.Code)
	}
	w = doJSON(t, r, "POST", "/reminders/none/reset-notification", map[string]string{"trigger": "time"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown reminder returned %d, want 404", w.Code)
	}
}

func TestNotificationHistoryEndpoint(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().Add(-time.Minute).UTC())
	if err := store.MarkNotified("rem1", model.TriggerTime, time.Now()); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, "GET", "/reminders/rem1/notifications", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history returned %d", w.Code)
	}
	var hist engine.NotificationHistory
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if !hist.TimeNotified || hist.LocationNotified {
		t.Errorf("unexpected history: %+v", hist)
	}

	if w := doJSON(t, r, "GET", "/reminders/none/notifications", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown reminder returned %d, want 404", w.Code)
	}
}

func TestUserLocationUpdateTriggersLocationPass(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	name := "Bakery"
	err := store.CreateReminder(&model.Reminder{
		ID: "rem1", Description: "buy bread", OwnerID: "usr1",
		Coordinates:  &model.Coordinates{Latitude: 40.0, Longitude: -74.0},
		LocationName: &name,
		CallStatus:   model.CallNotCalled,
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, "POST", "/users/usr1/location", map[string]float64{
		"latitude": 40.0005, "longitude": -74.0005,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("location update returned %d: %s", w.Code, w.Body.String())
	}

	rem, _ := store.GetReminder("rem1")
	if !rem.LocationNotified {
		t.Error("location pass did not run on location update")
	}

	w = doJSON(t, r, "POST", "/users/usr1/location", map[string]float64{"latitude": 95, "longitude": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("out of range location returned %d, want 400", w.Code)
	}
	w = doJSON(t, r, "POST", "/users/ghost/location", map[string]float64{"latitude": 1, "longitude": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user returned %d, want 404", w.Code)
	}
}

func TestPendingRemindersEndpoint(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().Add(time.Hour).UTC())

	w := doJSON(t, r, "GET", "/users/usr1/pending-reminders", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pending returned %d", w.Code)
	}
	var pending engine.PendingReminders
	if err := json.Unmarshal(w.Body.Bytes(), &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending.TimePending) != 1 || len(pending.LocationPending) != 0 {
		t.Errorf("unexpected pending groups: %+v", pending)
	}
}

func TestEngineControlEndpoints(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, "GET", "/engine/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status returned %d", w.Code)
	}
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.TimeLoopRunning || st.LocationLoopRunning {
		t.Fatalf("loops running before start: %+v", st)
	}

	doJSON(t, r, "POST", "/engine/time-loop/start", nil)
	doJSON(t, r, "POST", "/engine/location-loop/start", nil)

	w = doJSON(t, r, "GET", "/engine/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.TimeLoopRunning || !st.LocationLoopRunning {
		t.Errorf("loops not running after start: %+v", st)
	}

	doJSON(t, r, "POST", "/engine/time-loop/stop", nil)
	doJSON(t, r, "POST", "/engine/location-loop/stop", nil)

	w = doJSON(t, r, "GET", "/engine/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.TimeLoopRunning || st.LocationLoopRunning {
		t.Errorf("loops still running after stop: %+v", st)
	}
}

func TestRunPassEndpointFiresDueReminder(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().Add(-time.Minute).UTC())

	w := doJSON(t, r, "POST", "/engine/time-loop/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run returned %d", w.Code)
	}
	rem, _ := store.GetReminder("rem1")
	if !rem.TimeNotified {
		t.Error("manual pass did not fire the due reminder")
	}
}

func TestCallStatusWebhook(t *testing.T) {
	r, store := setupRouter(t)
	createTestUser(t, store, "usr1")
	createTimeReminder(t, store, "rem1", "usr1", time.Now().Add(-time.Minute).UTC())
	doJSON(t, r, "POST", "/engine/time-loop/run", nil)

	rem, _ := store.GetReminder("rem1")
	if rem.ActiveCallRef == "" {
		t.Fatal("no call in flight after the pass")
	}

	form := url.Values{}
	form.Set("CallSid", rem.ActiveCallRef)
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "22")
	w := postForm(t, r, "/twilio/call-status", form)

	if w.Code != http.StatusOK {
		t.Fatalf("webhook returned %d", w.Code)
	}
	rem, _ = store.GetReminder("rem1")
	if rem.CallStatus != model.CallCompleted {
		t.Errorf("call status = %s, want %s", rem.CallStatus, model.CallCompleted)
	}
}

func TestCallStatusWebhookAlwaysAnswers200(t *testing.T) {
	r, _ := setupRouter(t)

	form := url.Values{}
	form.Set("CallSid", "CA-unknown")
	form.Set("CallStatus", "completed")
	if w := postForm(t, r, "/twilio/call-status", form); w.Code != http.StatusOK {
		t.Errorf("unknown reference returned %d, want 200", w.Code)
	}

	if w := postForm(t, r, "/twilio/call-status", url.Values{}); w.Code != http.StatusOK {
		t.Errorf("empty report returned %d, want 200", w.Code)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, "POST", "/users", map[string]string{
		"email": "a@example.com",
		"phone": "+15551110000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user returned %d", w.Code)
	}
	var u model.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.ID == "" {
		t.Error("no id assigned to new user")
	}

	if w := doJSON(t, r, "GET", "/users/"+u.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get user returned %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/users/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown user returned %d", w.Code)
	}
}
