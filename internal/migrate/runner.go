package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Report is the outcome of running or rolling back one migration.
type Report struct {
	Version int      `json:"version"`
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Summary Summary  `json:"summary"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PreviewReport is the dry-run outcome of one migration.
type PreviewReport struct {
	Version int     `json:"version"`
	Name    string  `json:"name"`
	Preview Preview `json:"preview"`
}

// MigrationStatus is one line of Status.
type MigrationStatus struct {
	Version     int        `json:"version"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusReport summarizes every known migration.
type StatusReport struct {
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Pending    int               `json:"pending"`
	Migrations []MigrationStatus `json:"migrations"`
}

// Runner applies migrations in version order and records their state.
type Runner struct {
	state      *StateFile
	migrations []Migration
}

func NewRunner(state *StateFile, migrations ...Migration) *Runner {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version() < sorted[j].Version() })
	return &Runner{state: state, migrations: sorted}
}

// Pending lists migrations that are not completed.
func (r *Runner) Pending() []Migration {
	var out []Migration
	for _, m := range r.migrations {
		if r.state.Get(m.Version()).Status != StatusCompleted {
			out = append(out, m)
		}
	}
	return out
}

// RunAll applies every pending migration and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context) ([]Report, error) {
	pending := r.Pending()
	if len(pending) == 0 {
		log.Info("No pending migrations")
		return nil, nil
	}
	log.Info("Found pending migrations", "count", len(pending))

	var reports []Report
	for _, m := range pending {
		rep, err := r.Run(ctx, m)
		reports = append(reports, rep)
		if err != nil {
			log.Error("Stopping due to failed migration", "version", m.Version())
			return reports, err
		}
	}
	return reports, nil
}

// Run applies m unless it is already completed.
func (r *Runner) Run(ctx context.Context, m Migration) (Report, error) {
	rep := Report{Version: m.Version(), Name: m.Name()}

	current := r.state.Get(m.Version())
	if current.Status == StatusCompleted {
		rep.Status = StatusCompleted
		if current.Summary != nil {
			rep.Summary = *current.Summary
		}
		log.Info("Migration already completed, skipping", "version", m.Version(), "name", m.Name())
		return rep, nil
	}
	if current.Status == StatusRunning || current.Status == StatusRollingBack {
		// left over from an interrupted process
		log.Warn("Recovering interrupted migration", "version", m.Version(), "status", current.Status)
		if _, err := r.state.Transition(m.Version(), StatusFailed, nil); err != nil {
			return rep, err
		}
	}

	if _, err := r.state.Transition(m.Version(), StatusRunning, func(rec *Record) {
		rec.Name = m.Name()
		rec.Version = m.Version()
	}); err != nil {
		return rep, err
	}

	l := newLog(m.Version())
	l.Info("Running migration", "name", m.Name())
	summary, runErr := safeRun(func() (Summary, error) { return m.Up(ctx, l) })
	if runErr == nil {
		runErr = summary.Err()
	}

	rep.Summary = summary
	rep.Logs = l.Lines()
	to := StatusCompleted
	if runErr != nil {
		to = StatusFailed
		rep.Error = runErr.Error()
		l.Error("Migration failed", "error", runErr)
		rep.Logs = l.Lines()
	}
	rec, err := r.state.Transition(m.Version(), to, func(rec *Record) {
		rec.Summary = &summary
		rec.Logs = rep.Logs
		if to == StatusCompleted {
			now := time.Now().UTC()
			rec.CompletedAt = &now
		}
	})
	if err != nil {
		return rep, errors.Join(runErr, err)
	}
	rep.Status = rec.Status
	return rep, runErr
}

// DryRun previews every pending migration.
func (r *Runner) DryRun(ctx context.Context) ([]PreviewReport, error) {
	var out []PreviewReport
	for _, m := range r.Pending() {
		p, err := m.DryRun(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to preview migration %d: %w", m.Version(), err)
		}
		out = append(out, PreviewReport{Version: m.Version(), Name: m.Name(), Preview: p})
	}
	return out, nil
}

// RollbackLast reverts the completed migration with the highest version.
// It returns nil when nothing is completed.
func (r *Runner) RollbackLast(ctx context.Context) (*Report, error) {
	var last Migration
	for _, m := range r.migrations {
		if r.state.Get(m.Version()).Status == StatusCompleted {
			last = m
		}
	}
	if last == nil {
		log.Info("No migrations to roll back")
		return nil, nil
	}

	rep := &Report{Version: last.Version(), Name: last.Name()}
	if _, err := r.state.Transition(last.Version(), StatusRollingBack, nil); err != nil {
		return rep, err
	}

	l := newLog(last.Version())
	l.Info("Rolling back migration", "name", last.Name())
	summary, runErr := safeRun(func() (Summary, error) { return last.Down(ctx, l) })
	if runErr == nil {
		runErr = summary.Err()
	}

	rep.Summary = summary
	to := StatusPending
	if runErr != nil {
		to = StatusFailed
		rep.Error = runErr.Error()
		l.Error("Rollback failed", "error", runErr)
	}
	rep.Logs = l.Lines()
	rec, err := r.state.Transition(last.Version(), to, func(rec *Record) {
		rec.Summary = &summary
		rec.Logs = rep.Logs
		rec.CompletedAt = nil
	})
	if err != nil {
		return rep, errors.Join(runErr, err)
	}
	rep.Status = rec.Status
	return rep, runErr
}

// Status reports every known migration.
func (r *Runner) Status() StatusReport {
	rep := StatusReport{Total: len(r.migrations)}
	for _, m := range r.migrations {
		rec := r.state.Get(m.Version())
		ms := MigrationStatus{Version: m.Version(), Name: m.Name(), Status: rec.Status}
		if rec.Status == StatusCompleted {
			rep.Completed++
			ms.CompletedAt = rec.CompletedAt
		} else {
			rep.Pending++
		}
		rep.Migrations = append(rep.Migrations, ms)
	}
	return rep
}

func safeRun(fn func() (Summary, error)) (s Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migration panicked: %v", r)
		}
	}()
	return fn()
}
