package workflow

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/spigell/autoapply/internal/ratelimit"
)

// Status is the phase of a user's workflow.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusSearching   Status = "searching"
	StatusMatching    Status = "matching"
	StatusApplying    Status = "applying"
	StatusError       Status = "error"
	StatusStopped     Status = "stopped"
	StatusRateLimited Status = "rate_limited"
)

// Trigger tells why an execution was started.
type Trigger string

const (
	TriggerScheduled   Trigger = "scheduled"
	TriggerManual      Trigger = "manual"
	TriggerNewPostings Trigger = "new_postings"
	TriggerRetryFailed Trigger = "retry_failed"
)

var ErrInvalidTransition = errors.New("invalid workflow state transition")

// Finished reports whether an execution in this status has ended.
func (s Status) Finished() bool {
	switch s {
	case StatusIdle, StatusError, StatusStopped, StatusRateLimited:
		return true
	case StatusSearching, StatusMatching, StatusApplying:
		return false
	}
	return false
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusIdle, StatusError, StatusStopped, StatusRateLimited:
		return to == StatusSearching
	case StatusSearching:
		return to == StatusMatching || to == StatusError || to == StatusStopped
	case StatusMatching:
		return to == StatusApplying || to == StatusRateLimited || to == StatusError || to == StatusStopped
	case StatusApplying:
		return to == StatusIdle || to == StatusError || to == StatusStopped
	}
	return false
}

func checkTransition(from, to Status) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type Counts struct {
	Found     int `json:"found"`
	Matched   int `json:"matched"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
}

// Execution is one search, match and apply run for a user.
type Execution struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Trigger   Trigger           `json:"trigger"`
	Status    Status            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitempty"`
	Counts    Counts            `json:"counts"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e *Execution) clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}

// UserState is a point in time copy of a user's workflow state.
type UserState struct {
	UserID  string          `json:"user_id"`
	Active  bool            `json:"active"`
	Status  Status          `json:"status"`
	Current *Execution      `json:"current,omitempty"`
	Last    *Execution      `json:"last,omitempty"`
	Usage   ratelimit.Usage `json:"usage"`
	NextRun time.Time       `json:"next_run,omitempty"`
}

// Running reports whether an execution is in progress.
func (s *UserState) Running() bool {
	return s.Current != nil
}

func (s *UserState) clone() *UserState {
	cp := *s
	cp.Current = s.Current.clone()
	cp.Last = s.Last.clone()
	return &cp
}
