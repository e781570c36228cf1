// Package report aggregates stored job events into error/warning/ok
// buckets for mailing or display. It is a pure read-side consumer of the
// store.
package report

import (
	"context"
	"sort"
	"time"

	"cronmon/internal/model"
)

// Store is the slice of the persistence API the generator consumes.
type Store interface {
	JobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error)
	JobEvents(ctx context.Context, id int64, limit int, start, end time.Time) ([]model.Event, error)
}

// Span selects one job's events over a half-open time window.
type Span struct {
	JobID int64
	Start time.Time
	End   time.Time
}

// Options tune event filtering. Start events are routine and skipped by
// default; ok finishes can be skipped too for an errors-only report.
type Options struct {
	IncludeStarts bool
	SkipOK        bool
}

// Report is the aggregated result: job ids bucketed by their worst
// observed outcome, with per-job info and filtered event listings.
type Report struct {
	Num     int
	Error   []int64
	Warning []int64
	OK      []int64
	Info    map[int64]model.JobInfo
	Events  map[int64][]model.Event
}

// Generator caches job info and filtered events so one instance can serve
// several overlapping report requests cheaply. It is tied to a single
// Options value; not safe for concurrent use.
type Generator struct {
	store Store
	opts  Options

	infoCache  map[int64]model.JobInfo
	eventCache map[Span][]model.Event
	errCache   map[Span]int
	warnCache  map[Span]int
}

func NewGenerator(store Store, opts Options) *Generator {
	return &Generator{
		store:      store,
		opts:       opts,
		infoCache:  map[int64]model.JobInfo{},
		eventCache: map[Span][]model.Event{},
		errCache:   map[Span]int{},
		warnCache:  map[Span]int{},
	}
}

// Generate builds a report over the given spans. It returns nil when no
// job has any event to show.
func (g *Generator) Generate(ctx context.Context, spans []Span) (*Report, error) {
	r := &Report{
		Info:   map[int64]model.JobInfo{},
		Events: map[int64][]model.Event{},
	}
	seen := map[Span]struct{}{}

	for _, span := range spans {
		if _, dup := seen[span]; dup {
			continue
		}
		seen[span] = struct{}{}

		info, ok, err := g.jobInfo(ctx, span.JobID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		events, numErrors, numWarnings, err := g.jobEvents(ctx, span)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}

		r.Num++
		switch {
		case numErrors > 0:
			r.Error = append(r.Error, span.JobID)
		case numWarnings > 0:
			r.Warning = append(r.Warning, span.JobID)
		default:
			r.OK = append(r.OK, span.JobID)
		}
		r.Info[span.JobID] = info
		r.Events[span.JobID] = events
	}

	if r.Num == 0 {
		return nil, nil
	}
	sort.Slice(r.Error, func(i, j int) bool { return r.Error[i] < r.Error[j] })
	sort.Slice(r.Warning, func(i, j int) bool { return r.Warning[i] < r.Warning[j] })
	sort.Slice(r.OK, func(i, j int) bool { return r.OK[i] < r.OK[j] })
	return r, nil
}

func (g *Generator) jobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error) {
	if info, ok := g.infoCache[id]; ok {
		return info, true, nil
	}
	info, ok, err := g.store.JobInfo(ctx, id)
	if err != nil || !ok {
		return model.JobInfo{}, false, err
	}
	g.infoCache[id] = info
	return info, true, nil
}

func (g *Generator) jobEvents(ctx context.Context, span Span) ([]model.Event, int, int, error) {
	if events, ok := g.eventCache[span]; ok {
		return events, g.errCache[span], g.warnCache[span], nil
	}

	raw, err := g.store.JobEvents(ctx, span.JobID, 0, span.Start, span.End)
	if err != nil {
		return nil, 0, 0, err
	}

	var (
		events   []model.Event
		errors   int
		warnings int
	)
	for _, ev := range raw {
		if ev.Type == model.EventStart && !g.opts.IncludeStarts {
			continue
		}
		if ev.Status != nil {
			switch {
			case ev.Status.IsError():
				errors++
			case ev.Status.IsWarning():
				warnings++
			case g.opts.SkipOK:
				continue
			}
		}
		events = append(events, ev)
	}

	g.eventCache[span] = events
	g.errCache[span] = errors
	g.warnCache[span] = warnings
	return events, errors, warnings, nil
}
