package model

import "fmt"

// Status is a job status code as reported by runners or synthesized by the
// monitor.
//
// Non-negative codes come from job runners (derived from the command's
// outcome). Negative codes are synthesized by the monitor and only ever
// appear in the warning log.
type Status int

const (
	StatusSuccess       Status = 0
	StatusFail          Status = 1
	StatusUnknown       Status = 2
	StatusCouldNotStart Status = 3

	StatusLate           Status = -1
	StatusMissed         Status = -2
	StatusTimeout        Status = -3
	StatusAlreadyRunning Status = -4
)

// IsTrivial reports whether s is routine noise that should neither enter a
// job's history nor displace a warning or error.
func (s Status) IsTrivial() bool {
	return s == StatusAlreadyRunning
}

// IsOK reports whether s indicates no cause for concern. Trivial codes
// count as ok so that a job whose latest signal is noise does not show up
// in the warning/error counters.
func (s Status) IsOK() bool {
	return s == StatusSuccess || s.IsTrivial()
}

// IsWarning reports whether s is a concerning but non-fatal condition.
func (s Status) IsWarning() bool {
	switch s {
	case StatusLate, StatusMissed, StatusTimeout:
		return true
	}
	return false
}

// IsError reports whether s is a failure-class code. Unrecognized codes are
// treated as errors rather than silently ignored.
func (s Status) IsError() bool {
	return !s.IsOK() && !s.IsWarning()
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "succeeded"
	case StatusFail:
		return "failed"
	case StatusUnknown:
		return "unknown"
	case StatusCouldNotStart:
		return "could not start"
	case StatusLate:
		return "late"
	case StatusMissed:
		return "missed"
	case StatusTimeout:
		return "timed out"
	case StatusAlreadyRunning:
		return "already running"
	}
	return fmt.Sprintf("status(%d)", int(s))
}
