// Package monitor watches the event logs of scheduled jobs and maintains a
// live status table.
//
// A single goroutine owns all writes: it replays recent history at startup,
// then polls the store for new events, classifies them into per-job status
// records, evaluates schedules for lateness once per minute, and expires
// timeout deadlines. Readers get snapshots via JobStatus and can long-poll
// for changes with WaitForEventSince.
package monitor
