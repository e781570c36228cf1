package storage

import (
	"context"
	"errors"
	"time"

	"cronmon/internal/model"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the default when empty)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API.
//
// The monitor consumes the read side plus LogWarning; runners report runs
// through LogStart/LogFinish; the crontab import/export pair keeps job
// definitions in sync with a user's crontab.
type Store interface {
	// Jobs lists all non-deleted jobs, detail-free.
	Jobs(ctx context.Context) ([]model.JobSummary, error)

	// JobsFor lists full non-deleted job rows for one host/user pair,
	// in crontab order (insertion order).
	JobsFor(ctx context.Context, host, user string) ([]model.JobInfo, error)

	// JobInfo fetches one job row. The second return is false when the id
	// does not exist; deleted jobs are returned with Deleted set.
	JobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error)

	// JobEvents returns up to limit events for a job, newest-first.
	// Zero start/end times leave that bound open; limit <= 0 is unlimited.
	JobEvents(ctx context.Context, id int64, limit int, start, end time.Time) ([]model.Event, error)

	// EventsSince returns all events with ids above the given per-category
	// watermarks, oldest-first.
	EventsSince(ctx context.Context, startID, warnID, finishID int64) ([]model.Event, error)

	// LogStart records a start event, resolving (or creating) the job row
	// by host/user/name/command.
	LogStart(ctx context.Context, host, user, name, command string) error

	// LogFinish records a finish event with the run's outcome status.
	LogFinish(ctx context.Context, host, user, name, command string, status model.Status) error

	// LogWarning records a monitor-synthesized warning for a job id.
	LogWarning(ctx context.Context, id int64, status model.Status) error

	// Crontab renders the stored jobs of a host/user as crontab lines.
	Crontab(ctx context.Context, host, user string) ([]string, error)

	// SaveCrontab replaces the stored job set of a host/user from crontab
	// lines in one transaction. Jobs absent from the new crontab are
	// soft-deleted. The timezone argument seeds CRON_TZ handling.
	SaveCrontab(ctx context.Context, host, user string, lines []string, timezone string) error

	Close() error
}
