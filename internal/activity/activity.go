package activity

import (
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
)

type Kind string

const (
	AutomationEnabled    Kind = "automation_enabled"
	AutomationDisabled   Kind = "automation_disabled"
	WorkflowStarted      Kind = "workflow_started"
	WorkflowCompleted    Kind = "workflow_completed"
	WorkflowFailed       Kind = "workflow_failed"
	WorkflowStopped      Kind = "workflow_stopped"
	WorkflowRateLimited  Kind = "workflow_rate_limited"
	ApplicationSubmitted Kind = "application_submitted"
	ApplicationFailed    Kind = "application_failed"
	ApplicationPaused    Kind = "application_paused"
)

// Event is one entry of a user's activity history.
type Event struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	UserID      string            `json:"user_id"`
	ExecutionID string            `json:"execution_id,omitempty"`
	PostingID   string            `json:"posting_id,omitempty"`
	PostingURL  string            `json:"posting_url,omitempty"`
	Message     string            `json:"message,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	At          time.Time         `json:"at"`
}

// Log receives activity events. Record must never block or fail the caller.
type Log interface {
	Record(e Event)
}

type Nop struct{}

func (Nop) Record(Event) {}

// Multi fans an event out to several logs in order.
type Multi []Log

func (m Multi) Record(e Event) {
	for _, l := range m {
		if l != nil {
			l.Record(e)
		}
	}
}

// ZapLog writes events to a structured logger.
type ZapLog struct {
	logger *zap.Logger
}

func NewZap(log *zap.Logger) *ZapLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapLog{logger: log.Named("activity")}
}

func (z *ZapLog) Record(e Event) {
	fields := append(logger.UserFields(e.UserID, e.ExecutionID), logger.PostingFields(e.PostingID, e.PostingURL)...)
	fields = append(fields, zap.String("kind", string(e.Kind)))
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}

	switch e.Kind {
	case WorkflowFailed, ApplicationFailed:
		z.logger.Warn("activity", fields...)
	default:
		z.logger.Info("activity", fields...)
	}
}
