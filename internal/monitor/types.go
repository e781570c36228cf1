package monitor

import (
	"context"
	"sync"
	"time"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

// historyCount is the status history kept per job; reliability is computed
// over this window.
const historyCount = 10

// Config controls the monitoring loop.
//
// Defaults (when fields are zero):
//   - poll_interval: 5s
//   - grace_period: 2m (per-job default)
//   - timeout: 5m (per-job default)
//   - wait_timeout: 120s (long-poll)
//   - wait_jitter: 20s (max additive long-poll jitter)
type Config struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	Timeout      time.Duration
	WaitTimeout  time.Duration
	WaitJitter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 120 * time.Second
	}
	if c.WaitJitter < 0 {
		c.WaitJitter = 0
	} else if c.WaitJitter == 0 {
		c.WaitJitter = 20 * time.Second
	}
	return c
}

// Store is the slice of the persistence API the monitor consumes.
type Store interface {
	Jobs(ctx context.Context) ([]model.JobSummary, error)
	JobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error)
	JobEvents(ctx context.Context, id int64, limit int, start, end time.Time) ([]model.Event, error)
	EventsSince(ctx context.Context, startID, warnID, finishID int64) ([]model.Event, error)
	LogWarning(ctx context.Context, id int64, status model.Status) error
}

// JobState is a point-in-time copy of one job's monitoring state.
type JobState struct {
	// Status is nil until the first non-trivial event is observed.
	Status      *model.Status
	Running     bool
	Scheduled   bool
	Installed   time.Time
	Reliability int
	History     []model.Status
}

// Update is the result of a WaitForEventSince call: the current watermarks,
// the full status table, and the warning/error counters.
type Update struct {
	StartID  int64
	WarnID   int64
	FinishID int64

	NumWarning int
	NumError   int

	Status map[int64]JobState
}

// jobRecord is the monitor-private mutable state for one job. The status
// pointer is replaced on update, never written through, so snapshots may
// share it.
type jobRecord struct {
	status      *model.Status
	running     bool
	scheduled   bool
	installed   time.Time
	history     []model.Status
	reliability int
}

// Monitor is the stateful monitoring loop plus its read API.
//
// One mutex guards every map and counter together so a poll cycle is atomic
// from a reader's point of view: readers observe the table either before or
// after a cycle, never mid-mutation.
type Monitor struct {
	cfg   Config
	store Store
	log   logx.Logger

	mu          sync.RWMutex
	jobs        map[int64]*jobRecord
	sched       map[int64]*Schedule
	config      map[int64]model.JobConfig
	lastStart   map[int64]time.Time
	timeout     map[int64]time.Time
	missTimeout map[int64]time.Time

	maxStartID  int64
	maxWarnID   int64
	maxFinishID int64
	numWarning  int
	numError    int

	// notify is closed and replaced to broadcast "new events" to all
	// current waiters at once.
	notify chan struct{}

	// lastMinute is the HHMM stamp of the previous poll cycle; schedule
	// reconciliation runs when it changes.
	lastMinute string

	ready     chan struct{}
	readyOnce sync.Once

	startMu sync.Mutex
	done    chan struct{}
}
