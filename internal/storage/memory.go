package storage

import (
	"sync"
	"time"

	"bizminder/internal/model"
)

// MemoryStorage keeps all documents in process memory. Used for development
// and as the backend for engine tests.
type MemoryStorage struct {
	reminders map[string]*model.Reminder
	users     map[string]*model.User
	order     []string // reminder insertion order, so queries are deterministic
	mu        sync.Mutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		reminders: make(map[string]*model.Reminder),
		users:     make(map[string]*model.User),
	}
}

// Reminder operations

func (m *MemoryStorage) CreateReminder(r *model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reminders[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	m.reminders[r.ID] = r
	return nil
}

func (m *MemoryStorage) GetReminder(id string) (*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStorage) GetReminderByCallRef(ref string) (*model.Reminder, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if r := m.reminders[id]; r.ActiveCallRef == ref {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) ListRemindersByOwner(ownerID string) ([]*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*model.Reminder
	for _, id := range m.order {
		r := m.reminders[id]
		if r.OwnerID == ownerID && !r.IsDeleted {
			list = append(list, r)
		}
	}
	return list, nil
}

func (m *MemoryStorage) SoftDeleteReminder(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return ErrNotFound
	}
	r.IsDeleted = true
	r.DeletedAt = &at
	return nil
}

// Trigger candidate queries

func (m *MemoryStorage) DueTimeReminders(now time.Time) ([]*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*model.Reminder
	for _, id := range m.order {
		r := m.reminders[id]
		if r.IsDeleted || r.TimeNotified || r.TriggerTime == nil {
			continue
		}
		if !r.TriggerTime.After(now) {
			list = append(list, r)
		}
	}
	return list, nil
}

func (m *MemoryStorage) LocationCandidates() ([]*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*model.Reminder
	for _, id := range m.order {
		r := m.reminders[id]
		if r.IsDeleted || r.LocationNotified || r.Coordinates == nil {
			continue
		}
		list = append(list, r)
	}
	return list, nil
}

// Notification state

func (m *MemoryStorage) MarkNotified(id string, trigger model.TriggerType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if trigger == model.TriggerLocation {
		r.LocationNotified = true
		r.LocationNotifiedAt = &at
	} else {
		r.TimeNotified = true
		r.TimeNotifiedAt = &at
	}
	return nil
}

func (m *MemoryStorage) ResetNotified(id string, trigger model.TriggerType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if trigger == model.TriggerLocation {
		r.LocationNotified = false
		r.LocationNotifiedAt = nil
	} else {
		r.TimeNotified = false
		r.TimeNotifiedAt = nil
	}
	return nil
}

// Call state

func (m *MemoryStorage) UpdateCallState(id string, state CallState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return ErrNotFound
	}
	r.CallStatus = state.Status
	r.CallAttempts = state.Attempts
	r.LastCallAttemptAt = state.LastAttemptAt
	r.ActiveCallRef = state.ActiveCallRef
	return nil
}

// User operations

func (m *MemoryStorage) CreateUser(u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStorage) GetUser(id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStorage) UpdateUserLocation(id string, loc model.Coordinates, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLocation = &loc
	u.LastLocationAt = &at
	return nil
}
