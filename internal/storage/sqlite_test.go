package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "cronmon.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestLogStartAndFinishRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.LogStart(ctx, "web1", "backup", "", "/usr/local/bin/dump"); err != nil {
		t.Fatalf("LogStart: %v", err)
	}
	if err := st.LogFinish(ctx, "web1", "backup", "", "/usr/local/bin/dump", model.StatusSuccess); err != nil {
		t.Fatalf("LogFinish: %v", err)
	}

	jobs, err := st.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 (start and finish resolve to the same row)", len(jobs))
	}

	info, found, err := st.JobInfo(ctx, jobs[0].ID)
	if err != nil || !found {
		t.Fatalf("JobInfo: found=%v err=%v", found, err)
	}
	if info.Command != "/usr/local/bin/dump" || info.Host != "web1" || info.User != "backup" {
		t.Fatalf("unexpected job row: %+v", info)
	}

	events, err := st.EventsSince(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Oldest first; within the same second the start sorts before the finish.
	if events[0].Type != model.EventStart || events[1].Type != model.EventFinish {
		t.Fatalf("event order = %v, %v", events[0].Type, events[1].Type)
	}
	if events[0].Status != nil {
		t.Fatal("start event carries a status")
	}
	if events[1].Status == nil || *events[1].Status != model.StatusSuccess {
		t.Fatalf("finish status = %v, want %v", events[1].Status, model.StatusSuccess)
	}
}

func TestEventsSinceHonorsWatermarks(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.LogStart(ctx, "web1", "backup", "", "/bin/a"); err != nil {
		t.Fatalf("LogStart: %v", err)
	}
	events, err := st.EventsSince(ctx, 0, 0, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("EventsSince = %d events, err %v", len(events), err)
	}
	startID := events[0].ID

	// Nothing newer than the consumed ids.
	events, err = st.EventsSince(ctx, startID, 0, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events past watermark = %d, want 0", len(events))
	}

	// A finish has its own id sequence and is not masked by the start id.
	if err := st.LogFinish(ctx, "web1", "backup", "", "/bin/a", model.StatusFail); err != nil {
		t.Fatalf("LogFinish: %v", err)
	}
	events, err = st.EventsSince(ctx, startID, 0, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventFinish {
		t.Fatalf("events = %+v, want the single new finish", events)
	}
}

func TestLogWarning(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.LogStart(ctx, "web1", "backup", "", "/bin/a"); err != nil {
		t.Fatalf("LogStart: %v", err)
	}
	jobs, _ := st.Jobs(ctx)
	if err := st.LogWarning(ctx, jobs[0].ID, model.StatusLate); err != nil {
		t.Fatalf("LogWarning: %v", err)
	}

	events, err := st.EventsSince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventWarn {
		t.Fatalf("events = %+v, want one warning", events)
	}
	if events[0].Status == nil || *events[0].Status != model.StatusLate {
		t.Fatalf("warning status = %v, want %v", events[0].Status, model.StatusLate)
	}
}

func TestJobEventsNewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.LogFinish(ctx, "web1", "backup", "", "/bin/a", model.StatusSuccess); err != nil {
			t.Fatalf("LogFinish: %v", err)
		}
	}
	jobs, _ := st.Jobs(ctx)
	id := jobs[0].ID

	events, err := st.JobEvents(ctx, id, 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("JobEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID > events[i-1].ID {
			t.Fatalf("events not newest-first: %+v", events)
		}
	}

	events, err = st.JobEvents(ctx, id, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("JobEvents with limit: %v", err)
	}
	if len(events) != 1 || events[0].ID != 3 {
		t.Fatalf("limited events = %+v, want just the newest", events)
	}

	// A window entirely in the future excludes everything.
	events, err = st.JobEvents(ctx, id, 0, time.Now().UTC().Add(time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("JobEvents with window: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("future window returned %d events", len(events))
	}
}

func TestCheckJobResolvesByName(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// Same name, edited command: the row is updated, not duplicated.
	if err := st.LogStart(ctx, "web1", "backup", "nightly", "/bin/a"); err != nil {
		t.Fatalf("LogStart: %v", err)
	}
	if err := st.LogStart(ctx, "web1", "backup", "nightly", "/bin/b"); err != nil {
		t.Fatalf("LogStart: %v", err)
	}

	jobs, err := st.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	info, _, err := st.JobInfo(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("JobInfo: %v", err)
	}
	if info.Command != "/bin/b" || info.Name != "nightly" {
		t.Fatalf("row after rename = %+v", info)
	}
}

func TestSaveCrontabAndRender(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	lines := []string{
		"# nightly maintenance",
		"",
		"CRON_TZ=America/New_York",
		"0 2 * * * /usr/local/bin/dump",
		"CRONMON_NAME=reports",
		"30 3 * * * /usr/local/bin/reports --all",
		"10 4 * * * CRONMON_IGNORE=yes /bin/noise",
	}
	if err := st.SaveCrontab(ctx, "web1", "backup", lines, ""); err != nil {
		t.Fatalf("SaveCrontab: %v", err)
	}

	jobs, err := st.JobsFor(ctx, "web1", "backup")
	if err != nil {
		t.Fatalf("JobsFor: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2 (ignored line excluded)", len(jobs))
	}
	if jobs[0].Name != "" || jobs[0].Command != "/usr/local/bin/dump" || jobs[0].Time != "0 2 * * *" {
		t.Fatalf("first job = %+v", jobs[0])
	}
	if jobs[1].Name != "reports" || jobs[1].Command != "/usr/local/bin/reports --all" {
		t.Fatalf("second job = %+v", jobs[1])
	}
	if jobs[0].Timezone != "America/New_York" || jobs[1].Timezone != "America/New_York" {
		t.Fatalf("timezones = %q, %q", jobs[0].Timezone, jobs[1].Timezone)
	}

	rendered, err := st.Crontab(ctx, "web1", "backup")
	if err != nil {
		t.Fatalf("Crontab: %v", err)
	}
	want := []string{
		"CRON_TZ=America/New_York",
		"0 2 * * * /usr/local/bin/dump",
		"30 3 * * * CRONMON_NAME=reports /usr/local/bin/reports --all",
	}
	if len(rendered) != len(want) {
		t.Fatalf("rendered = %q, want %q", rendered, want)
	}
	for i := range want {
		if rendered[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, rendered[i], want[i])
		}
	}
}

func TestSaveCrontabSoftDeletesRemovedJobs(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	both := []string{
		"0 2 * * * /bin/a",
		"0 3 * * * /bin/b",
	}
	if err := st.SaveCrontab(ctx, "web1", "backup", both, ""); err != nil {
		t.Fatalf("SaveCrontab: %v", err)
	}
	jobs, _ := st.JobsFor(ctx, "web1", "backup")
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	removedID := jobs[1].ID

	if err := st.SaveCrontab(ctx, "web1", "backup", both[:1], ""); err != nil {
		t.Fatalf("SaveCrontab: %v", err)
	}
	jobs, _ = st.JobsFor(ctx, "web1", "backup")
	if len(jobs) != 1 || jobs[0].Command != "/bin/a" {
		t.Fatalf("jobs after removal = %+v", jobs)
	}

	// The removed job is soft-deleted: its row and history survive.
	info, found, err := st.JobInfo(ctx, removedID)
	if err != nil || !found {
		t.Fatalf("JobInfo: found=%v err=%v", found, err)
	}
	if info.Deleted == nil {
		t.Fatal("removed job has no deleted timestamp")
	}

	// Re-adding the line undeletes the same row.
	if err := st.SaveCrontab(ctx, "web1", "backup", both, ""); err != nil {
		t.Fatalf("SaveCrontab: %v", err)
	}
	info, _, err = st.JobInfo(ctx, removedID)
	if err != nil {
		t.Fatalf("JobInfo: %v", err)
	}
	if info.Deleted != nil {
		t.Fatal("re-added job still marked deleted")
	}
}

func TestQuoteHelpers(t *testing.T) {
	t.Parallel()

	quoteCases := []struct{ in, want string }{
		{"simple", "simple"},
		{"two words", `"two words"`},
		{"", ""},
	}
	for _, tc := range quoteCases {
		if got := quoteMultiword(tc.in); got != tc.want {
			t.Errorf("quoteMultiword(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	unquoteCases := []struct{ in, want string }{
		{`"two words"`, "two words"},
		{`'two words'`, "two words"},
		{`plain`, "plain"},
		{`"mismatch'`, `"mismatch'`},
	}
	for _, tc := range unquoteCases {
		if got := removeQuotes(tc.in); got != tc.want {
			t.Errorf("removeQuotes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	splitCases := []struct{ in, word, rest string }{
		{"word rest of it", "word", "rest of it"},
		{`"two words" rest`, "two words", "rest"},
		{`'two words' rest`, "two words", "rest"},
		{"only", "only", ""},
		{"", "", ""},
	}
	for _, tc := range splitCases {
		word, rest := splitQuotedWord(tc.in)
		if word != tc.word || rest != tc.rest {
			t.Errorf("splitQuotedWord(%q) = %q, %q, want %q, %q", tc.in, word, rest, tc.word, tc.rest)
		}
	}
}
