package monitor

import (
	"context"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

// initJobLocked fetches a job's definition and creates its record. It
// returns false when the job has vanished from the store (or the store
// errored); the caller skips the job and carries on.
func (m *Monitor) initJobLocked(ctx context.Context, id int64) bool {
	info, found, err := m.store.JobInfo(ctx, id)
	if err != nil {
		m.log.Error("job lookup failed", logx.Int64("job", id), logx.Err(err))
		return false
	}
	if !found || info.Deleted != nil {
		m.log.Warn("job has vanished", logx.Int64("job", id))
		return false
	}

	m.jobs[id] = &jobRecord{installed: info.Installed}
	m.config[id] = model.JobConfig{
		GracePeriod: m.cfg.GracePeriod,
		Timeout:     m.cfg.Timeout,
	}
	m.scheduleJobLocked(id, info)
	return true
}

// scheduleJobLocked (re)parses a job's recurrence. A missing or invalid
// expression leaves the job monitored but unscheduled.
func (m *Monitor) scheduleJobLocked(id int64, info model.JobInfo) {
	rec := m.jobs[id]
	rec.scheduled = false
	delete(m.sched, id)

	if info.Time == "" {
		return
	}
	sc, err := NewSchedule(info.Time, info.Timezone)
	if err != nil {
		m.log.Warn("could not add schedule", logx.Int64("job", id), logx.Err(err))
		return
	}
	m.sched[id] = sc
	rec.scheduled = true
}

// rescheduleJobLocked re-derives a job's schedule and config after its
// definition was edited (installed timestamp advanced).
func (m *Monitor) rescheduleJobLocked(ctx context.Context, id int64) {
	info, found, err := m.store.JobInfo(ctx, id)
	if err != nil {
		m.log.Error("job lookup failed", logx.Int64("job", id), logx.Err(err))
		return
	}
	if !found {
		m.log.Warn("job has vanished", logx.Int64("job", id))
		return
	}
	m.config[id] = model.JobConfig{
		GracePeriod: m.cfg.GracePeriod,
		Timeout:     m.cfg.Timeout,
	}
	m.scheduleJobLocked(id, info)
}

// removeJobLocked drops a job from every map in one step.
func (m *Monitor) removeJobLocked(id int64) {
	delete(m.jobs, id)
	delete(m.sched, id)
	delete(m.config, id)
	delete(m.lastStart, id)
	delete(m.timeout, id)
	delete(m.missTimeout, id)
}

// advanceWatermarkLocked moves the per-category watermark forward if the
// event outdates it. Ids are advanced idempotently, so replay order does
// not matter.
func (m *Monitor) advanceWatermarkLocked(ev model.Event) {
	switch ev.Type {
	case model.EventStart:
		if ev.ID > m.maxStartID {
			m.maxStartID = ev.ID
		}
	case model.EventWarn:
		if ev.ID > m.maxWarnID {
			m.maxWarnID = ev.ID
		}
	case model.EventFinish:
		if ev.ID > m.maxFinishID {
			m.maxFinishID = ev.ID
		}
	}
}

// processEventLocked applies one event to a job's record: the status
// precedence rule, history, and the running flag with its timeout deadline.
func (m *Monitor) processEventLocked(id int64, rec *jobRecord, ev model.Event) {
	if ev.Status != nil {
		m.applyStatusLocked(rec, *ev.Status)
	}

	if ev.Type == model.EventStart {
		rec.running = true
		m.lastStart[id] = ev.Time
		m.timeout[id] = ev.Time.Add(m.config[id].Timeout)
		delete(m.missTimeout, id)
	}

	if ev.Type == model.EventFinish || (ev.Status != nil && *ev.Status == model.StatusTimeout) {
		rec.running = false
		delete(m.timeout, id)
	}
}

// applyStatusLocked overwrites the record's status subject to precedence
// and appends non-trivial codes to the history.
//
// Avoid overwriting a status with a less important one: trivial codes only
// displace ok states, warnings displace anything but errors, and terminal
// success/failure (plus error codes) always win.
func (m *Monitor) applyStatusLocked(rec *jobRecord, status model.Status) {
	prev := rec.status
	switch {
	case status.IsTrivial():
		if prev == nil || prev.IsOK() {
			rec.setStatus(status)
		}
	case status.IsWarning():
		if prev == nil || !prev.IsError() {
			rec.setStatus(status)
		}
	default:
		rec.setStatus(status)
	}

	if !status.IsTrivial() {
		if len(rec.history) >= historyCount {
			rec.history = rec.history[len(rec.history)-historyCount+1:]
		}
		rec.history = append(rec.history, status)
	}
}

func (r *jobRecord) setStatus(status model.Status) {
	s := status
	r.status = &s
}

// computeReliability recalculates the success percentage over the history
// window. Runs synchronously after every history mutation.
func (r *jobRecord) computeReliability() {
	if len(r.history) == 0 {
		r.reliability = 0
		return
	}
	n := 0
	for _, s := range r.history {
		if s == model.StatusSuccess {
			n++
		}
	}
	r.reliability = 100 * n / len(r.history)
}

// writeWarningLocked persists a synthesized warning through the store. The
// event flows back through ingestion on the next poll cycle; if the write
// fails, the status is applied in memory anyway so the table stays honest.
func (m *Monitor) writeWarningLocked(ctx context.Context, id int64, status model.Status) {
	err := m.store.LogWarning(ctx, id, status)
	if err == nil {
		return
	}
	m.log.Error("could not record warning",
		logx.Int64("job", id), logx.String("status", status.String()), logx.Err(err))

	rec, ok := m.jobs[id]
	if !ok {
		return
	}
	m.applyStatusLocked(rec, status)
	rec.computeReliability()
	if status == model.StatusTimeout {
		rec.running = false
	}
}
