package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Status is the lifecycle state of one migration.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRollingBack Status = "rolling_back"
)

// ErrInvalidTransition is returned when a state change is not allowed from
// the current status.
var ErrInvalidTransition = errors.New("invalid migration state transition")

var transitions = map[Status][]Status{
	StatusPending:     {StatusRunning},
	StatusRunning:     {StatusCompleted, StatusFailed},
	StatusFailed:      {StatusRunning, StatusRollingBack},
	StatusCompleted:   {StatusRollingBack},
	StatusRollingBack: {StatusPending, StatusFailed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is the persisted state of one migration version.
type Record struct {
	Version     int        `json:"version"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     *Summary   `json:"summary,omitempty"`
	Logs        []string   `json:"logs,omitempty"`
}

// StateFile persists migration records as JSON keyed by version. Every
// change is written to a temporary file and renamed over the old one.
type StateFile struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// LoadState reads path. A missing file means every migration is pending.
func LoadState(path string) (*StateFile, error) {
	s := &StateFile{path: path, records: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration state: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse migration state %s: %w", path, err)
	}
	return s, nil
}

func (s *StateFile) Path() string { return s.path }

// Get returns the record of version. Unknown versions are pending.
func (s *StateFile) Get(version int) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(version)
}

func (s *StateFile) get(version int) Record {
	r, ok := s.records[strconv.Itoa(version)]
	if !ok {
		return Record{Version: version, Status: StatusPending}
	}
	return r
}

// Transition moves version to status to if allowed, applies update to the
// record and persists it. Nothing changes when the write fails.
func (s *StateFile) Transition(version int, to Status, update func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(version)
	if !CanTransition(r.Status, to) {
		return r, fmt.Errorf("%w: migration %d from %s to %s", ErrInvalidTransition, version, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if update != nil {
		update(&r)
	}

	next := make(map[string]Record, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	next[strconv.Itoa(version)] = r
	if err := writeAtomic(s.path, next); err != nil {
		return s.get(version), err
	}
	s.records = next
	return r, nil
}

func writeAtomic(path string, records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode migration state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".migration_state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write migration state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync migration state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close migration state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace migration state: %w", err)
	}
	return nil
}
