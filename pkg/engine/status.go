package engine

import (
	"fmt"
)

// JobStatus is the lifecycle state of a payrun job.
type JobStatus string

const (
	// JobStatusDraft is a job being prepared; results are preliminary.
	JobStatusDraft JobStatus = "Draft"

	// JobStatusRelease is a job released for processing.
	JobStatusRelease JobStatus = "Release"

	// JobStatusProcess is a job whose employees are being evaluated.
	JobStatusProcess JobStatus = "Process"

	// JobStatusComplete is a finished job whose results are legally binding.
	JobStatusComplete JobStatus = "Complete"

	// JobStatusForecast is a finished what-if job; its results never feed legal jobs.
	JobStatusForecast JobStatus = "Forecast"

	// JobStatusAbort is a job stopped by a failure.
	JobStatusAbort JobStatus = "Abort"

	// JobStatusCancel is a job withdrawn before processing.
	JobStatusCancel JobStatus = "Cancel"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusDraft:   {JobStatusRelease, JobStatusProcess, JobStatusCancel},
	JobStatusRelease: {JobStatusProcess, JobStatusCancel},
	JobStatusProcess: {JobStatusComplete, JobStatusForecast, JobStatusAbort},
}

// IsTerminal returns true if the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusForecast ||
		s == JobStatusAbort || s == JobStatusCancel
}

// IsLegal returns true for statuses whose results count as legal payroll results.
func (s JobStatus) IsLegal() bool {
	return s == JobStatusComplete
}

// CanTransitionTo reports whether the state machine allows the change.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns an error for disallowed changes.
func (s JobStatus) TransitionTo(next JobStatus) error {
	if !s.CanTransitionTo(next) {
		return NewDomainError(fmt.Sprintf("job status %s cannot change to %s", s, next), nil).
			WithCode(ErrCodeInvalidTransition)
	}
	return nil
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusDraft, JobStatusRelease, JobStatusProcess, JobStatusComplete,
		JobStatusForecast, JobStatusAbort, JobStatusCancel:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// RetroPayMode controls whether retro differences are visible to scripts.
type RetroPayMode string

const (
	RetroPayModeNone        RetroPayMode = "None"
	RetroPayModeValueChange RetroPayMode = "ValueChange"
)
