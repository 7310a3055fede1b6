// Package migrate runs versioned, reversible migrations of the vector
// collections and records their progress in a state file.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrPartialFailure means some documents failed while the rest of the
// migration was kept.
var ErrPartialFailure = errors.New("migration finished with errors")

// Migration is one reversible change. Up must skip work that is already
// done so that it can be re-run after a partial failure.
type Migration interface {
	Version() int
	Name() string
	Up(ctx context.Context, l *Log) (Summary, error)
	Down(ctx context.Context, l *Log) (Summary, error)
	DryRun(ctx context.Context) (Preview, error)
}

// Summary counts what a run touched.
type Summary struct {
	Users     int      `json:"users"`
	Documents int      `json:"documents"`
	Migrated  int      `json:"migrated"`
	Skipped   int      `json:"skipped"`
	Vectors   int      `json:"vectors"`
	Errors    []string `json:"errors,omitempty"`
}

// Err returns ErrPartialFailure when any document failed.
func (s Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d error(s)", ErrPartialFailure, len(s.Errors))
}

// Preview estimates a run without changing anything.
type Preview struct {
	TotalUsers          int      `json:"total_users"`
	UsersToProcess      int      `json:"users_to_process"`
	TotalDocuments      int      `json:"total_documents"`
	DocumentsToMigrate  int      `json:"documents_to_migrate"`
	EstimatedChunks     int      `json:"estimated_chunks"`
	CollectionsToCreate []string `json:"collections_to_create"`
	CollectionsToDelete []string `json:"collections_to_delete"`
}

// Log collects the timestamped lines of one run and mirrors them to the
// process logger.
type Log struct {
	mu    sync.Mutex
	lines []string
	attrs []any
}

func newLog(version int) *Log {
	return &Log{attrs: []any{"migration", version}}
}

func (l *Log) add(level, msg string, keyvals ...any) {
	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		line += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *Log) Info(msg string, keyvals ...any) {
	l.add("INFO", msg, keyvals...)
	log.Info(msg, append(l.attrs, keyvals...)...)
}

func (l *Log) Warn(msg string, keyvals ...any) {
	l.add("WARNING", msg, keyvals...)
	log.Warn(msg, append(l.attrs, keyvals...)...)
}

func (l *Log) Error(msg string, keyvals ...any) {
	l.add("ERROR", msg, keyvals...)
	log.Error(msg, append(l.attrs, keyvals...)...)
}

// Lines returns a copy of the collected lines.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
