package model

import "time"

// EventType identifies which of the three event logs an event came from.
//
// Each log keeps its own id sequence, so ingestion progress is tracked by
// one watermark per type rather than a single global id.
type EventType int

const (
	EventStart  EventType = 1
	EventWarn   EventType = 2
	EventFinish EventType = 3
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "started"
	case EventWarn:
		return "warning"
	case EventFinish:
		return "finished"
	}
	return "event"
}

// Event is a single start/warning/finish record for a job.
// Status is nil for start events, which carry no status code.
type Event struct {
	ID     int64
	JobID  int64
	Type   EventType
	Status *Status
	Time   time.Time // UTC
}
