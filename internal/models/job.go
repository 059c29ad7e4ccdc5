package models

import "fmt"

// JobHandle is the opaque identifier returned by a job submission
// (a reception id or a unit id depending on the flow).
type JobHandle string

// JobState is the normalized remote job state.
type JobState int

const (
	JobRegistered JobState = iota
	JobInProgress
	JobSucceeded
	JobFailed
	JobTimedOut
)

func (s JobState) String() string {
	switch s {
	case JobRegistered:
		return "registered"
	case JobInProgress:
		return "in_progress"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// JobStatus is a JobState plus the remote reason for failures.
type JobStatus struct {
	State  JobState
	Reason string
	// Raw is the adapter-specific status code, kept for diagnostics.
	Raw string
}

// IsTerminal reports whether further polling cannot change the outcome.
func (s JobStatus) IsTerminal() bool {
	return s.State == JobSucceeded || s.State == JobFailed || s.State == JobTimedOut
}

// ResultPayload is what a finished job yields for one part.
type ResultPayload struct {
	JSON          []byte
	SearchablePDF []byte
}
