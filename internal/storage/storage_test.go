package storage

import (
	"errors"
	"testing"
	"time"

	"bizminder/internal/model"
)

func testUser() *model.User {
	return &model.User{
		ID:             "usr1",
		Email:          "alice@example.com",
		Phone:          "+15551230001",
		AssignedNumber: "+15559990001",
	}
}

func testReminder() *model.Reminder {
	due, _ := time.Parse(time.RFC3339, "2025-05-21T10:00:00Z")
	name := "Office"
	return &model.Reminder{
		ID:           "rem1",
		Description:  "Call the supplier",
		OwnerID:      "usr1",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		TriggerTime:  &due,
		Coordinates:  &model.Coordinates{Latitude: 40.0, Longitude: -74.0},
		LocationName: &name,
		CallStatus:   model.CallNotCalled,
	}
}

func runStorageTests(t *testing.T, store Storage) {
	now, _ := time.Parse(time.RFC3339, "2025-05-21T12:00:00Z")

	// Reminder create/get
	r := testReminder()
	if err := store.CreateReminder(r); err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	got, err := store.GetReminder(r.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.ID != r.ID || got.Description != r.Description || got.OwnerID != r.OwnerID {
		t.Errorf("GetReminder: got %+v, want %+v", got, r)
	}
	if got.Coordinates == nil || got.Coordinates.Latitude != 40.0 {
		t.Errorf("GetReminder: coordinates not preserved: %+v", got.Coordinates)
	}
	if _, err := store.GetReminder("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReminder nonexistent: got %v, want ErrNotFound", err)
	}

	// Owner listing
	list, err := store.ListRemindersByOwner(r.OwnerID)
	if err != nil || len(list) != 1 {
		t.Errorf("ListRemindersByOwner: got %d, want 1 (err=%v)", len(list), err)
	}
	list, err = store.ListRemindersByOwner("someone-else")
	if err != nil || len(list) != 0 {
		t.Errorf("ListRemindersByOwner other owner: got %d, want 0 (err=%v)", len(list), err)
	}

	// Time candidates: trigger time is in the past relative to now
	due, err := store.DueTimeReminders(now)
	if err != nil || len(due) != 1 {
		t.Errorf("DueTimeReminders: got %d, want 1 (err=%v)", len(due), err)
	}
	due, err = store.DueTimeReminders(now.Add(-4 * time.Hour))
	if err != nil || len(due) != 0 {
		t.Errorf("DueTimeReminders before trigger: got %d, want 0 (err=%v)", len(due), err)
	}

	// Location candidates
	cands, err := store.LocationCandidates()
	if err != nil || len(cands) != 1 {
		t.Errorf("LocationCandidates: got %d, want 1 (err=%v)", len(cands), err)
	}

	// Marking notified removes the reminder from the matching candidate
	// query but not the other one
	if err := store.MarkNotified(r.ID, model.TriggerTime, now); err != nil {
		t.Fatalf("MarkNotified time failed: %v", err)
	}
	got, _ = store.GetReminder(r.ID)
	if !got.TimeNotified || got.TimeNotifiedAt == nil {
		t.Errorf("MarkNotified time: flags not set: %+v", got)
	}
	if got.LocationNotified {
		t.Error("MarkNotified time must not touch the location flag")
	}
	due, _ = store.DueTimeReminders(now)
	if len(due) != 0 {
		t.Errorf("DueTimeReminders after mark: got %d, want 0", len(due))
	}
	cands, _ = store.LocationCandidates()
	if len(cands) != 1 {
		t.Errorf("LocationCandidates after time mark: got %d, want 1", len(cands))
	}

	// Reset restores candidacy
	if err := store.ResetNotified(r.ID, model.TriggerTime); err != nil {
		t.Fatalf("ResetNotified failed: %v", err)
	}
	got, _ = store.GetReminder(r.ID)
	if got.TimeNotified || got.TimeNotifiedAt != nil {
		t.Errorf("ResetNotified: flags not cleared: %+v", got)
	}
	if err := store.ResetNotified("nonexistent", model.TriggerTime); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResetNotified nonexistent: got %v, want ErrNotFound", err)
	}

	// Call state round trip and lookup by reference
	attemptAt := now.Add(time.Minute)
	state := CallState{
		Status:        model.CallCalling,
		Attempts:      1,
		LastAttemptAt: &attemptAt,
		ActiveCallRef: "CA123",
	}
	if err := store.UpdateCallState(r.ID, state); err != nil {
		t.Fatalf("UpdateCallState failed: %v", err)
	}
	got, err = store.GetReminderByCallRef("CA123")
	if err != nil {
		t.Fatalf("GetReminderByCallRef failed: %v", err)
	}
	if got.ID != r.ID || got.CallStatus != model.CallCalling || got.CallAttempts != 1 {
		t.Errorf("call state not persisted: %+v", got)
	}
	if _, err := store.GetReminderByCallRef("CA999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReminderByCallRef unknown ref: got %v, want ErrNotFound", err)
	}

	// Soft delete excludes the reminder from every query
	if err := store.SoftDeleteReminder(r.ID, now); err != nil {
		t.Fatalf("SoftDeleteReminder failed: %v", err)
	}
	due, _ = store.DueTimeReminders(now)
	cands, _ = store.LocationCandidates()
	list, _ = store.ListRemindersByOwner(r.OwnerID)
	if len(due) != 0 || len(cands) != 0 || len(list) != 0 {
		t.Errorf("soft-deleted reminder still visible: due=%d loc=%d owner=%d", len(due), len(cands), len(list))
	}

	// User operations
	u := testUser()
	if err := store.CreateUser(u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	gotU, err := store.GetUser(u.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if gotU.Email != u.Email || gotU.AssignedNumber != u.AssignedNumber {
		t.Errorf("GetUser: got %+v, want %+v", gotU, u)
	}
	loc := model.Coordinates{Latitude: 40.0005, Longitude: -74.0005}
	if err := store.UpdateUserLocation(u.ID, loc, now); err != nil {
		t.Fatalf("UpdateUserLocation failed: %v", err)
	}
	gotU, _ = store.GetUser(u.ID)
	if gotU.LastLocation == nil || gotU.LastLocation.Latitude != loc.Latitude {
		t.Errorf("UpdateUserLocation: location not persisted: %+v", gotU.LastLocation)
	}
	if err := store.UpdateUserLocation("nonexistent", loc, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateUserLocation nonexistent: got %v, want ErrNotFound", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, NewMemoryStorage())
}

func TestMemoryStorageCandidateOrdering(t *testing.T) {
	store := NewMemoryStorage()
	past := time.Now().Add(-time.Hour)
	for _, id := range []string{"rem1", "rem2", "rem3"} {
		due := past
		if err := store.CreateReminder(&model.Reminder{ID: id, OwnerID: "usr1", TriggerTime: &due}); err != nil {
			t.Fatalf("CreateReminder %s failed: %v", id, err)
		}
	}

	due, err := store.DueTimeReminders(time.Now())
	if err != nil {
		t.Fatalf("DueTimeReminders failed: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(due))
	}
	for i, want := range []string{"rem1", "rem2", "rem3"} {
		if due[i].ID != want {
			t.Errorf("candidate %d: got %s, want %s", i, due[i].ID, want)
		}
	}
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStorage(dir+"/reminders.json", dir+"/users.json")
	runStorageTests(t, store)
}

func TestFileStoragePersistence(t *testing.T) {
	dir := t.TempDir()
	remFile := dir + "/reminders.json"
	usrFile := dir + "/users.json"

	store := NewFileStorage(remFile, usrFile)
	r := testReminder()
	if err := store.CreateReminder(r); err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	if err := store.MarkNotified(r.ID, model.TriggerLocation, time.Now()); err != nil {
		t.Fatalf("MarkNotified failed: %v", err)
	}

	// Reload from disk and check the notified flag survived
	store2 := NewFileStorage(remFile, usrFile)
	got, err := store2.GetReminder(r.ID)
	if err != nil {
		t.Fatalf("GetReminder after reload failed: %v", err)
	}
	if !got.LocationNotified || got.LocationNotifiedAt == nil {
		t.Errorf("notified flag lost across reload: %+v", got)
	}
}
