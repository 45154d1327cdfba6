package orchestrator

import (
	"errors"
	"fmt"
)

// Status is the stage an application is in.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAnalyzing   Status = "analyzing"
	StatusCustomizing Status = "customizing"
	StatusGenerating  Status = "generating_content"
	StatusSubmitting  Status = "submitting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusPaused      Status = "paused"
)

var ErrInvalidTransition = errors.New("invalid application state transition")

// ErrBelowThreshold fails an application whose match score is under the
// user's minimum. Pausing is reserved for limits and manual approval.
var ErrBelowThreshold = errors.New("match score below threshold")

var transitions = map[Status][]Status{
	StatusPending:     {StatusAnalyzing, StatusPaused, StatusFailed},
	StatusAnalyzing:   {StatusCustomizing, StatusPaused, StatusFailed},
	StatusCustomizing: {StatusGenerating, StatusFailed},
	StatusGenerating:  {StatusSubmitting, StatusFailed},
	StatusSubmitting:  {StatusCompleted, StatusFailed},
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPaused:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
