package submission

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/spigell/autoapply/internal/posting"
)

type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusFailed         Status = "failed"
	StatusRequiresManual Status = "requires_manual_review"
	StatusRateLimited    Status = "rate_limited"
)

type ErrorKind string

const (
	ErrSiteUnavailable    ErrorKind = "site_unavailable"
	ErrLoginRequired      ErrorKind = "login_required"
	ErrFormNotFound       ErrorKind = "form_not_found"
	ErrUploadFailed       ErrorKind = "upload_failed"
	ErrCaptchaRequired    ErrorKind = "captcha_required"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrNetwork            ErrorKind = "network_error"
	ErrTimeout            ErrorKind = "timeout"
	ErrUnknown            ErrorKind = "unknown_error"
)

// Class groups error kinds by how the retrier reacts to them.
type Class int

const (
	Retryable Class = iota
	RateLimitedClass
	Terminal
)

// Classify maps an error kind to its retry class. Login problems are terminal
// only when no credentials are available.
func Classify(kind ErrorKind, haveCredentials bool) Class {
	switch kind {
	case ErrRateLimited:
		return RateLimitedClass
	case ErrCaptchaRequired, ErrInvalidCredentials, ErrFormNotFound, ErrUploadFailed:
		return Terminal
	case ErrLoginRequired:
		if haveCredentials {
			return Retryable
		}
		return Terminal
	default:
		return Retryable
	}
}

// Document is an opaque handle to generated or customized content.
type Document struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Body string `json:"-"`
}

type Content struct {
	Resume      *Document
	CoverLetter *Document
}

type Credentials struct {
	Username string
	Password string
}

// Present reports whether both a username and a password are set.
func (c *Credentials) Present() bool {
	return c != nil && c.Username != "" && c.Password != ""
}

// Outcome is what a Submitter reports for a single attempt.
type Outcome struct {
	Status         Status
	ErrorKind      ErrorKind
	Message        string
	ConfirmationID string
}

// Submitter performs one application attempt against a job site.
// A returned error means the attempt could not be performed at all.
type Submitter interface {
	Submit(ctx context.Context, p *posting.Posting, content Content, creds *Credentials) (Outcome, error)
}

// Attempt records one call to the submitter.
type Attempt struct {
	Number    int           `json:"number"`
	At        time.Time     `json:"at"`
	Status    Status        `json:"status"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Backoff   time.Duration `json:"backoff,omitempty"`
}

type Result struct {
	PostingID      string    `json:"posting_id"`
	PostingURL     string    `json:"posting_url"`
	Status         Status    `json:"status"`
	ConfirmationID string    `json:"confirmation_id,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retry_count"`
	SubmittedAt    time.Time `json:"submitted_at,omitempty"`
	Attempts       []Attempt `json:"attempts"`
}

func kindFromError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}
