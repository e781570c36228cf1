package model

import "time"

// JobSummary is the listing row returned by Store.Jobs: enough to diff the
// tracked job set without fetching full details.
type JobSummary struct {
	ID        int64
	Installed time.Time
	Deleted   *time.Time
}

// JobInfo is the full job definition as stored.
//
// Name is the optional human label attached via the crontab (jobs without
// one are identified by host/user/command). Time is the raw recurrence
// expression; it may be empty or unparseable, in which case the job is
// monitored without lateness checks.
type JobInfo struct {
	ID        int64
	Host      string
	User      string
	Name      string
	Command   string
	Time      string
	Timezone  string
	Installed time.Time
	Deleted   *time.Time
}

// Title returns the label used when presenting the job to humans.
func (j JobInfo) Title() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Command
}

// JobConfig holds per-job monitoring settings, snapshotted from the
// monitor defaults when the job is first seen. A future per-job settings
// source can override these without touching the monitor logic.
type JobConfig struct {
	// GracePeriod is the allowed delay after a scheduled time before the
	// job is flagged late, and again before late escalates to missed.
	GracePeriod time.Duration

	// Timeout is the maximum run duration before a running job is flagged
	// as timed out.
	Timeout time.Duration
}
