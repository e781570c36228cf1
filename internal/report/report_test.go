package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"cronmon/internal/model"
)

type fakeStore struct {
	jobs       map[int64]model.JobInfo
	events     map[int64][]model.Event
	infoCalls  int
	eventCalls int
}

func (f *fakeStore) JobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error) {
	f.infoCalls++
	info, ok := f.jobs[id]
	return info, ok, nil
}

func (f *fakeStore) JobEvents(ctx context.Context, id int64, limit int, start, end time.Time) ([]model.Event, error) {
	f.eventCalls++
	return f.events[id], nil
}

func statusPtr(s model.Status) *model.Status { return &s }

func fixtureStore() *fakeStore {
	at := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	return &fakeStore{
		jobs: map[int64]model.JobInfo{
			1: {ID: 1, Host: "web1", User: "backup", Name: "nightly"},
			2: {ID: 2, Host: "web1", User: "backup", Command: "/bin/reports"},
			3: {ID: 3, Host: "db1", User: "root", Command: "/bin/vacuum"},
		},
		events: map[int64][]model.Event{
			1: {
				{ID: 2, JobID: 1, Type: model.EventFinish, Status: statusPtr(model.StatusFail), Time: at},
				{ID: 1, JobID: 1, Type: model.EventStart, Time: at},
			},
			2: {
				{ID: 1, JobID: 2, Type: model.EventWarn, Status: statusPtr(model.StatusLate), Time: at},
			},
			3: {
				{ID: 1, JobID: 3, Type: model.EventFinish, Status: statusPtr(model.StatusSuccess), Time: at},
			},
		},
	}
}

func window() (time.Time, time.Time) {
	return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
}

func TestGenerateBucketsByWorstOutcome(t *testing.T) {
	t.Parallel()
	f := fixtureStore()
	g := NewGenerator(f, Options{})
	start, end := window()

	r, err := g.Generate(context.Background(), []Span{
		{JobID: 1, Start: start, End: end},
		{JobID: 2, Start: start, End: end},
		{JobID: 3, Start: start, End: end},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r == nil || r.Num != 3 {
		t.Fatalf("report = %+v, want 3 jobs", r)
	}
	if len(r.Error) != 1 || r.Error[0] != 1 {
		t.Fatalf("error bucket = %v, want [1]", r.Error)
	}
	if len(r.Warning) != 1 || r.Warning[0] != 2 {
		t.Fatalf("warning bucket = %v, want [2]", r.Warning)
	}
	if len(r.OK) != 1 || r.OK[0] != 3 {
		t.Fatalf("ok bucket = %v, want [3]", r.OK)
	}

	// Start events are filtered out by default.
	for _, ev := range r.Events[1] {
		if ev.Type == model.EventStart {
			t.Fatal("start event included without IncludeStarts")
		}
	}
}

func TestGenerateNilWhenNothingToReport(t *testing.T) {
	t.Parallel()
	f := &fakeStore{jobs: map[int64]model.JobInfo{1: {ID: 1}}}
	g := NewGenerator(f, Options{})
	start, end := window()

	r, err := g.Generate(context.Background(), []Span{{JobID: 1, Start: start, End: end}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r != nil {
		t.Fatalf("report = %+v, want nil for an empty window", r)
	}
}

func TestGenerateSkipsVanishedJob(t *testing.T) {
	t.Parallel()
	f := fixtureStore()
	delete(f.jobs, 2)
	g := NewGenerator(f, Options{})
	start, end := window()

	r, err := g.Generate(context.Background(), []Span{
		{JobID: 1, Start: start, End: end},
		{JobID: 2, Start: start, End: end},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r.Num != 1 || len(r.Warning) != 0 {
		t.Fatalf("report = %+v, want only job 1", r)
	}
}

func TestGenerateSkipOKOption(t *testing.T) {
	t.Parallel()
	f := fixtureStore()
	g := NewGenerator(f, Options{SkipOK: true})
	start, end := window()

	r, err := g.Generate(context.Background(), []Span{{JobID: 3, Start: start, End: end}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r != nil {
		t.Fatalf("report = %+v, want nil when only ok finishes exist", r)
	}
}

func TestGenerateCachesAcrossCalls(t *testing.T) {
	t.Parallel()
	f := fixtureStore()
	g := NewGenerator(f, Options{})
	start, end := window()
	spans := []Span{{JobID: 1, Start: start, End: end}}

	if _, err := g.Generate(context.Background(), spans); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := g.Generate(context.Background(), spans); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if f.infoCalls != 1 || f.eventCalls != 1 {
		t.Fatalf("store calls = %d/%d, want 1/1 (cached)", f.infoCalls, f.eventCalls)
	}
}

func TestTextSections(t *testing.T) {
	t.Parallel()
	f := fixtureStore()
	g := NewGenerator(f, Options{})
	start, end := window()

	r, err := g.Generate(context.Background(), []Span{
		{JobID: 1, Start: start, End: end},
		{JobID: 2, Start: start, End: end},
		{JobID: 3, Start: start, End: end},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	out := Text(r, true)
	for _, want := range []string{
		"Jobs with Errors",
		"Jobs with Warnings",
		"Successful Jobs",
		"Event Listing",
		"nightly",
		"/bin/reports",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Jobs with Errors") > strings.Index(out, "Successful Jobs") {
		t.Error("error section does not precede the ok section")
	}
}
