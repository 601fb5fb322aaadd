package storage

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"bizminder/internal/model"
)

// FileStorage persists documents as JSON files. Meant for single-node
// development setups; every operation reloads from disk.
type FileStorage struct {
	reminderFile string
	userFile     string
	mu           sync.Mutex
}

func NewFileStorage(reminderFile, userFile string) *FileStorage {
	return &FileStorage{
		reminderFile: reminderFile,
		userFile:     userFile,
	}
}

// Helper functions for file IO
func (fs *FileStorage) loadReminders() (map[string]*model.Reminder, error) {
	reminders := make(map[string]*model.Reminder)
	if _, err := os.Stat(fs.reminderFile); os.IsNotExist(err) {
		return reminders, nil
	}
	data, err := ioutil.ReadFile(fs.reminderFile)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return reminders, nil
	}
	if err := json.Unmarshal(data, &reminders); err != nil {
		return nil, err
	}
	return reminders, nil
}

func (fs *FileStorage) saveReminders(reminders map[string]*model.Reminder) error {
	data, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fs.reminderFile, data, 0644)
}

func (fs *FileStorage) loadUsers() (map[string]*model.User, error) {
	users := make(map[string]*model.User)
	if _, err := os.Stat(fs.userFile); os.IsNotExist(err) {
		return users, nil
	}
	data, err := ioutil.ReadFile(fs.userFile)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (fs *FileStorage) saveUsers(users map[string]*model.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fs.userFile, data, 0644)
}

// mutateReminder loads the reminder map, applies fn to the reminder with the
// given id and writes the map back.
func (fs *FileStorage) mutateReminder(id string, fn func(*model.Reminder)) error {
	reminders, err := fs.loadReminders()
	if err != nil {
		return err
	}
	r, ok := reminders[id]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	return fs.saveReminders(reminders)
}

// Reminder operations

func (fs *FileStorage) CreateReminder(r *model.Reminder) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return err
	}
	reminders[r.ID] = r
	return fs.saveReminders(reminders)
}

func (fs *FileStorage) GetReminder(id string) (*model.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return nil, err
	}
	r, ok := reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (fs *FileStorage) GetReminderByCallRef(ref string) (*model.Reminder, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return nil, err
	}
	for _, r := range reminders {
		if r.ActiveCallRef == ref {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (fs *FileStorage) ListRemindersByOwner(ownerID string) ([]*model.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return nil, err
	}
	var list []*model.Reminder
	for _, r := range reminders {
		if r.OwnerID == ownerID && !r.IsDeleted {
			list = append(list, r)
		}
	}
	return list, nil
}

func (fs *FileStorage) SoftDeleteReminder(id string, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mutateReminder(id, func(r *model.Reminder) {
		r.IsDeleted = true
		r.DeletedAt = &at
	})
}

// Trigger candidate queries

func (fs *FileStorage) DueTimeReminders(now time.Time) ([]*model.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return nil, err
	}
	var list []*model.Reminder
	for _, r := range reminders {
		if r.IsDeleted || r.TimeNotified || r.TriggerTime == nil {
			continue
		}
		if !r.TriggerTime.After(now) {
			list = append(list, r)
		}
	}
	return list, nil
}

func (fs *FileStorage) LocationCandidates() ([]*model.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := fs.loadReminders()
	if err != nil {
		return nil, err
	}
	var list []*model.Reminder
	for _, r := range reminders {
		if r.IsDeleted || r.LocationNotified || r.Coordinates == nil {
			continue
		}
		list = append(list, r)
	}
	return list, nil
}

// Notification state

func (fs *FileStorage) MarkNotified(id string, trigger model.TriggerType, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mutateReminder(id, func(r *model.Reminder) {
		if trigger == model.TriggerLocation {
			r.LocationNotified = true
			r.LocationNotifiedAt = &at
		} else {
			r.TimeNotified = true
			r.TimeNotifiedAt = &at
		}
	})
}

func (fs *FileStorage) ResetNotified(id string, trigger model.TriggerType) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mutateReminder(id, func(r *model.Reminder) {
		if trigger == model.TriggerLocation {
			r.LocationNotified = false
			r.LocationNotifiedAt = nil
		} else {
			r.TimeNotified = false
			r.TimeNotifiedAt = nil
		}
	})
}

// Call state

func (fs *FileStorage) UpdateCallState(id string, state CallState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mutateReminder(id, func(r *model.Reminder) {
		r.CallStatus = state.Status
		r.CallAttempts = state.Attempts
		r.LastCallAttemptAt = state.LastAttemptAt
		r.ActiveCallRef = state.ActiveCallRef
	})
}

// User operations

func (fs *FileStorage) CreateUser(u *model.User) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	users, err := fs.loadUsers()
	if err != nil {
		return err
	}
	users[u.ID] = u
	return fs.saveUsers(users)
}

func (fs *FileStorage) GetUser(id string) (*model.User, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	users, err := fs.loadUsers()
	if err != nil {
		return nil, err
	}
	u, ok := users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (fs *FileStorage) UpdateUserLocation(id string, loc model.Coordinates, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	users, err := fs.loadUsers()
	if err != nil {
		return err
	}
	u, ok := users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLocation = &loc
	u.LastLocationAt = &at
	return fs.saveUsers(users)
}
