package monitor

import (
	"context"
	"time"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

func (m *Monitor) run(ctx context.Context) {
	m.bulkLoad(ctx)
	m.signalReady()
	m.log.Info("monitor ready", logx.Int("jobs", m.jobCount()))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollCycle(ctx, time.Now().UTC())
		}
	}
}

func (m *Monitor) jobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// bulkLoad populates the table from the store: every job's definition plus
// enough recent events to rebuild its history. A margin of events over the
// history size absorbs start events and warnings.
func (m *Monitor) bulkLoad(ctx context.Context) {
	jobs, err := m.store.Jobs(ctx)
	if err != nil {
		m.log.Error("initial job list failed", logx.Err(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range jobs {
		if job.Deleted != nil {
			continue
		}
		if !m.initJobLocked(ctx, job.ID) {
			continue
		}

		events, err := m.store.JobEvents(ctx, job.ID, 4*historyCount, time.Time{}, time.Time{})
		if err != nil {
			m.log.Error("initial event replay failed", logx.Int64("job", job.ID), logx.Err(err))
			continue
		}
		rec := m.jobs[job.ID]

		// Events come newest-first; replay them in order.
		for i := len(events) - 1; i >= 0; i-- {
			m.advanceWatermarkLocked(events[i])
			m.processEventLocked(job.ID, rec, events[i])
		}
		rec.computeReliability()
	}
}

// pollCycle is one iteration of the steady-state loop. It holds the write
// lock end to end, so readers observe either the pre- or post-cycle table.
func (m *Monitor) pollCycle(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events, err := m.store.EventsSince(ctx, m.maxStartID, m.maxWarnID, m.maxFinishID)
	if err != nil {
		m.log.Error("event poll failed", logx.Err(err))
		events = nil
	}

	for _, ev := range events {
		m.advanceWatermarkLocked(ev)

		rec, ok := m.jobs[ev.JobID]
		if !ok {
			// A job deleted moments ago may still have trailing events;
			// initJobLocked fails for those and the event is skipped.
			if !m.initJobLocked(ctx, ev.JobID) {
				continue
			}
			rec = m.jobs[ev.JobID]
		}
		m.processEventLocked(ev.JobID, rec, ev)
		rec.computeReliability()
	}

	m.recountLocked()

	if len(events) > 0 {
		m.notifyLocked()
	}

	// Hour and minute are sufficient to detect that the minute changed.
	// A loop stall spanning a whole minute without observing the change
	// would skip that minute's check; preserved as-is.
	stamp := now.Format("1504")
	if m.lastMinute == "" || stamp != m.lastMinute {
		m.checkSchedulesLocked(ctx, now)
		m.reconcileJobsLocked(ctx)
	}
	m.lastMinute = stamp

	m.expireDeadlinesLocked(ctx, now)
}

// recountLocked rebuilds the warning/error counters from the table.
func (m *Monitor) recountLocked() {
	m.numWarning = 0
	m.numError = 0
	for _, rec := range m.jobs {
		st := rec.status
		switch {
		case st == nil || st.IsOK():
		case st.IsWarning():
			m.numWarning++
		default:
			m.numError++
		}
	}
}

// checkSchedulesLocked flags jobs whose schedule matches the current
// minute but which have not started recently: a LATE warning now, and a
// MISSED escalation one grace period later unless a start arrives first.
func (m *Monitor) checkSchedulesLocked(ctx context.Context, now time.Time) {
	for id, sc := range m.sched {
		if !sc.Match(now) {
			continue
		}
		grace := m.config[id].GracePeriod
		last, started := m.lastStart[id]
		if !started || last.Add(grace).Before(now) {
			m.writeWarningLocked(ctx, id, model.StatusLate)
			m.missTimeout[id] = now.Add(grace)
		}
	}
}

// reconcileJobsLocked diffs the tracked job set against the store: edits
// (installed timestamp advanced) reload the schedule, unseen ids are
// initialized, and ids missing from the listing are removed everywhere.
func (m *Monitor) reconcileJobsLocked(ctx context.Context) {
	tracked := make(map[int64]struct{}, len(m.jobs))
	for id := range m.jobs {
		tracked[id] = struct{}{}
	}

	jobs, err := m.store.Jobs(ctx)
	if err != nil {
		m.log.Error("job list failed", logx.Err(err))
		return
	}

	for _, job := range jobs {
		if job.Deleted != nil {
			continue
		}
		if _, ok := tracked[job.ID]; ok {
			delete(tracked, job.ID)

			// Compare installed timestamps in case the definition was
			// edited and the schedule needs reloading.
			rec := m.jobs[job.ID]
			if job.Installed.After(rec.installed) {
				m.rescheduleJobLocked(ctx, job.ID)
				rec.installed = job.Installed
			}
			continue
		}

		// No need to replay the event history here: had there been any
		// events, the job would have been added when they were ingested.
		m.initJobLocked(ctx, job.ID)
	}

	// Anything left was deleted from the store.
	for id := range tracked {
		m.removeJobLocked(id)
	}
}

// expireDeadlinesLocked escalates expired deadlines: a missed start becomes
// MISSED, an overrunning job becomes TIMEOUT. Keys are snapshotted first
// since entries are deleted during the scan.
func (m *Monitor) expireDeadlinesLocked(ctx context.Context, now time.Time) {
	for _, id := range expiredKeys(m.missTimeout, now) {
		m.writeWarningLocked(ctx, id, model.StatusMissed)
		delete(m.missTimeout, id)
	}
	for _, id := range expiredKeys(m.timeout, now) {
		m.writeWarningLocked(ctx, id, model.StatusTimeout)
		delete(m.timeout, id)
	}
}

func expiredKeys(deadlines map[int64]time.Time, now time.Time) []int64 {
	var ids []int64
	for id, at := range deadlines {
		if at.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids
}
