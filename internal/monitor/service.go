package monitor

import (
	"context"
	"math/rand"
	"time"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

func New(cfg Config, store Store, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		cfg:         cfg.withDefaults(),
		store:       store,
		log:         log,
		jobs:        map[int64]*jobRecord{},
		sched:       map[int64]*Schedule{},
		config:      map[int64]model.JobConfig{},
		lastStart:   map[int64]time.Time{},
		timeout:     map[int64]time.Time{},
		missTimeout: map[int64]time.Time{},
		notify:      make(chan struct{}),
		ready:       make(chan struct{}),
	}
}

// Apply updates the loop defaults at runtime. Per-job settings already
// snapshotted keep their values; new jobs pick up the new defaults.
func (m *Monitor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	m.cfg.GracePeriod = cfg.GracePeriod
	m.cfg.Timeout = cfg.Timeout
	m.cfg.WaitTimeout = cfg.WaitTimeout
	m.cfg.WaitJitter = cfg.WaitJitter
	m.mu.Unlock()
}

// Start launches the monitoring goroutine. It returns immediately; Ready()
// is closed once the initial bulk load has completed.
func (m *Monitor) Start(ctx context.Context) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.done != nil {
		return
	}
	m.done = make(chan struct{})
	done := m.done

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("panic in monitor loop", logx.Any("panic", r))
			}
			// Never leave readers blocked on a dead monitor.
			m.signalReady()
		}()
		m.run(ctx)
	}()
}

// Stop waits for the monitoring goroutine to exit. The goroutine itself
// stops when the context passed to Start is cancelled.
func (m *Monitor) Stop(ctx context.Context) {
	m.startMu.Lock()
	done := m.done
	m.startMu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Ready is closed once the initial bulk load has completed.
func (m *Monitor) Ready() <-chan struct{} { return m.ready }

func (m *Monitor) signalReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// JobStatus blocks until the initial bulk load has completed, then returns
// a snapshot of the status table.
func (m *Monitor) JobStatus(ctx context.Context) (map[int64]JobState, error) {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusTableLocked(), nil
}

// WaitForEventSince long-polls for new events. If any watermark already
// exceeds the caller's ids it returns immediately; otherwise it blocks
// until the monitor broadcasts new events, the timeout (plus a random
// jitter that decorrelates simultaneous pollers) elapses, or ctx is
// cancelled. The current state is returned in every case; callers re-check
// the watermarks themselves.
func (m *Monitor) WaitForEventSince(ctx context.Context, startID, warnID, finishID int64, timeout time.Duration) Update {
	m.mu.RLock()
	ahead := m.maxStartID > startID || m.maxWarnID > warnID || m.maxFinishID > finishID
	notify := m.notify
	if timeout <= 0 {
		timeout = m.cfg.WaitTimeout
	}
	jitter := m.cfg.WaitJitter
	m.mu.RUnlock()

	if !ahead {
		d := timeout
		if jitter > 0 {
			d += time.Duration(rand.Int63n(int64(jitter)))
		}
		t := time.NewTimer(d)
		select {
		case <-notify:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return Update{
		StartID:    m.maxStartID,
		WarnID:     m.maxWarnID,
		FinishID:   m.maxFinishID,
		NumWarning: m.numWarning,
		NumError:   m.numError,
		Status:     m.statusTableLocked(),
	}
}

func (m *Monitor) statusTableLocked() map[int64]JobState {
	out := make(map[int64]JobState, len(m.jobs))
	for id, rec := range m.jobs {
		out[id] = JobState{
			Status:      rec.status,
			Running:     rec.running,
			Scheduled:   rec.scheduled,
			Installed:   rec.installed,
			Reliability: rec.reliability,
			History:     append([]model.Status(nil), rec.history...),
		}
	}
	return out
}

// notifyLocked wakes every current waiter exactly once.
func (m *Monitor) notifyLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}
