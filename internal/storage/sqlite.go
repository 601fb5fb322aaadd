package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bizminder/internal/model"
)

// SQLiteStorage keeps reminders and users in a single SQLite file. Optional
// fields map to nullable columns; timestamps are stored as RFC 3339 strings.
type SQLiteStorage struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			location_name TEXT,
			trigger_time TEXT,
			time_notified INTEGER NOT NULL DEFAULT 0,
			time_notified_at TEXT,
			location_notified INTEGER NOT NULL DEFAULT 0,
			location_notified_at TEXT,
			call_attempts INTEGER NOT NULL DEFAULT 0,
			last_call_attempt_at TEXT,
			call_status TEXT NOT NULL,
			active_call_ref TEXT,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT,
			assigned_number TEXT,
			last_latitude REAL,
			last_longitude REAL,
			last_location_at TEXT
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}
	return nil
}

const reminderColumns = `id, description, owner_id, created_at, latitude, longitude,
	location_name, trigger_time, time_notified, time_notified_at,
	location_notified, location_notified_at, call_attempts, last_call_attempt_at,
	call_status, active_call_ref, is_deleted, deleted_at`

// Reminder operations

func (s *SQLiteStorage) CreateReminder(r *model.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lat, lng *float64
	if r.Coordinates != nil {
		lat, lng = &r.Coordinates.Latitude, &r.Coordinates.Longitude
	}
	var activeRef *string
	if r.ActiveCallRef != "" {
		activeRef = &r.ActiveCallRef
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Description, r.OwnerID, formatTime(r.CreatedAt),
		lat, lng, r.LocationName, formatTimePtr(r.TriggerTime),
		r.TimeNotified, formatTimePtr(r.TimeNotifiedAt),
		r.LocationNotified, formatTimePtr(r.LocationNotifiedAt),
		r.CallAttempts, formatTimePtr(r.LastCallAttemptAt),
		string(r.CallStatus), activeRef,
		r.IsDeleted, formatTimePtr(r.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to create/update reminder: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*model.Reminder, error) {
	var r model.Reminder
	var lat, lng *float64
	var createdAt string
	var triggerTime, timeNotifiedAt, locationNotifiedAt *string
	var lastCallAttemptAt, deletedAt *string
	var callStatus string
	var activeRef *string

	err := row.Scan(&r.ID, &r.Description, &r.OwnerID, &createdAt,
		&lat, &lng, &r.LocationName, &triggerTime,
		&r.TimeNotified, &timeNotifiedAt,
		&r.LocationNotified, &locationNotifiedAt,
		&r.CallAttempts, &lastCallAttemptAt,
		&callStatus, &activeRef, &r.IsDeleted, &deletedAt)
	if err != nil {
		return nil, err
	}

	if lat != nil && lng != nil {
		r.Coordinates = &model.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	if r.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created at: %w", err)
	}
	if r.TriggerTime, err = parseTimePtr(triggerTime); err != nil {
		return nil, fmt.Errorf("failed to parse trigger time: %w", err)
	}
	if r.TimeNotifiedAt, err = parseTimePtr(timeNotifiedAt); err != nil {
		return nil, fmt.Errorf("failed to parse time notified at: %w", err)
	}
	if r.LocationNotifiedAt, err = parseTimePtr(locationNotifiedAt); err != nil {
		return nil, fmt.Errorf("failed to parse location notified at: %w", err)
	}
	if r.LastCallAttemptAt, err = parseTimePtr(lastCallAttemptAt); err != nil {
		return nil, fmt.Errorf("failed to parse last call attempt at: %w", err)
	}
	if r.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("failed to parse deleted at: %w", err)
	}
	r.CallStatus = model.CallStatus(callStatus)
	if activeRef != nil {
		r.ActiveCallRef = *activeRef
	}
	return &r, nil
}

func (s *SQLiteStorage) GetReminder(id string) (*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanReminder(s.db.QueryRow(
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

func (s *SQLiteStorage) GetReminderByCallRef(ref string) (*model.Reminder, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanReminder(s.db.QueryRow(
		`SELECT `+reminderColumns+` FROM reminders WHERE active_call_ref = ?`, ref))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder by call ref: %w", err)
	}
	return r, nil
}

func (s *SQLiteStorage) queryReminders(query string, args ...any) ([]*model.Reminder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *SQLiteStorage) ListRemindersByOwner(ownerID string) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryReminders(
		`SELECT `+reminderColumns+` FROM reminders WHERE owner_id = ? AND is_deleted = 0`, ownerID)
}

func (s *SQLiteStorage) SoftDeleteReminder(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE reminders SET is_deleted = 1, deleted_at = ? WHERE id = ? AND is_deleted = 0`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Trigger candidate queries. The trigger time comparison happens in Go so
// it does not depend on string collation of the stored timestamps.

func (s *SQLiteStorage) DueTimeReminders(now time.Time) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates, err := s.queryReminders(`SELECT ` + reminderColumns + ` FROM reminders
		WHERE trigger_time IS NOT NULL AND time_notified = 0 AND is_deleted = 0`)
	if err != nil {
		return nil, err
	}

	var due []*model.Reminder
	for _, r := range candidates {
		if r.TriggerTime != nil && !r.TriggerTime.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *SQLiteStorage) LocationCandidates() ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryReminders(`SELECT ` + reminderColumns + ` FROM reminders
		WHERE latitude IS NOT NULL AND location_notified = 0 AND is_deleted = 0`)
}

// Notification state

func (s *SQLiteStorage) MarkNotified(id string, trigger model.TriggerType, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE reminders SET time_notified = 1, time_notified_at = ? WHERE id = ?`
	if trigger == model.TriggerLocation {
		query = `UPDATE reminders SET location_notified = 1, location_notified_at = ? WHERE id = ?`
	}
	return s.execOnReminder(query, formatTime(at), id)
}

func (s *SQLiteStorage) ResetNotified(id string, trigger model.TriggerType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE reminders SET time_notified = 0, time_notified_at = NULL WHERE id = ?`
	if trigger == model.TriggerLocation {
		query = `UPDATE reminders SET location_notified = 0, location_notified_at = NULL WHERE id = ?`
	}
	return s.execOnReminder(query, id)
}

// Call state

func (s *SQLiteStorage) UpdateCallState(id string, state CallState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var activeRef *string
	if state.ActiveCallRef != "" {
		activeRef = &state.ActiveCallRef
	}
	return s.execOnReminder(`UPDATE reminders
		SET call_status = ?, call_attempts = ?, last_call_attempt_at = ?, active_call_ref = ?
		WHERE id = ?`,
		string(state.Status), state.Attempts, formatTimePtr(state.LastAttemptAt), activeRef, id)
}

func (s *SQLiteStorage) execOnReminder(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// User operations

func (s *SQLiteStorage) CreateUser(u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lat, lng *float64
	if u.LastLocation != nil {
		lat, lng = &u.LastLocation.Latitude, &u.LastLocation.Longitude
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO users
		(id, email, phone, assigned_number, last_latitude, last_longitude, last_location_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Phone, u.AssignedNumber, lat, lng, formatTimePtr(u.LastLocationAt))
	if err != nil {
		return fmt.Errorf("failed to create/update user: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetUser(id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u model.User
	var lat, lng *float64
	var lastLocationAt *string

	err := s.db.QueryRow(`SELECT id, email, phone, assigned_number,
		last_latitude, last_longitude, last_location_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Phone, &u.AssignedNumber, &lat, &lng, &lastLocationAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if lat != nil && lng != nil {
		u.LastLocation = &model.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	if u.LastLocationAt, err = parseTimePtr(lastLocationAt); err != nil {
		return nil, fmt.Errorf("failed to parse last location at: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStorage) UpdateUserLocation(id string, loc model.Coordinates, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE users
		SET last_latitude = ?, last_longitude = ?, last_location_at = ? WHERE id = ?`,
		loc.Latitude, loc.Longitude, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update user location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Time helpers

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	str := formatTime(*t)
	return &str
}

// parseTimeString parses a time string in ISO 8601 format
func parseTimeString(timeStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time string: %s", timeStr)
}

func parseTimePtr(timeStr *string) (*time.Time, error) {
	if timeStr == nil {
		return nil, nil
	}
	t, err := parseTimeString(*timeStr)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
