package ratelimit

import (
	"time"

	"github.com/spigell/autoapply/internal/profile"
)

const (
	DefaultMaxConsecutiveFailures = 3
	DefaultBackoff                = 60 * time.Minute
)

// Reason explains why an application is not allowed right now.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDailyLimit  Reason = "daily limit"
	ReasonWeeklyLimit Reason = "weekly limit"
	ReasonBackoff     Reason = "backoff window"
)

// Usage is the per-user counter state. It is owned by the user's workflow and
// never shared between goroutines without copying.
type Usage struct {
	Daily               int       `json:"daily"`
	Weekly              int       `json:"weekly"`
	LastApplication     time.Time `json:"last_application,omitempty"`
	RateLimitedUntil    time.Time `json:"rate_limited_until,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

type Config struct {
	MaxConsecutiveFailures int           `mapstructure:"max-consecutive-failures"`
	Backoff                time.Duration `mapstructure:"backoff"`
}

// Policy applies caps and failure backoff to Usage values.
// Day and week boundaries are evaluated in the policy location.
type Policy struct {
	maxFailures int
	backoff     time.Duration
	loc         *time.Location
	now         func() time.Time
}

func New(cfg Config) *Policy {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Policy{
		maxFailures: cfg.MaxConsecutiveFailures,
		backoff:     cfg.Backoff,
		loc:         time.Local,
		now:         time.Now,
	}
}

func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

func (p *Policy) WithLocation(loc *time.Location) *Policy {
	p.loc = loc
	return p
}

func (p *Policy) Now() time.Time {
	return p.now()
}

// MayApply resets stale counters and reports whether one more application is allowed.
func (p *Policy) MayApply(u *Usage, s profile.AutomationSettings) (bool, Reason) {
	p.ResetDailyIfNeeded(u)
	p.ResetWeeklyIfNeeded(u)

	if p.now().Before(u.RateLimitedUntil) {
		return false, ReasonBackoff
	}
	if u.Daily >= s.MaxPerDay {
		return false, ReasonDailyLimit
	}
	if u.Weekly >= s.MaxPerWeek {
		return false, ReasonWeeklyLimit
	}
	return true, ReasonNone
}

// Remaining returns how many more applications fit under both caps.
func (p *Policy) Remaining(u *Usage, s profile.AutomationSettings) int {
	p.ResetDailyIfNeeded(u)
	p.ResetWeeklyIfNeeded(u)

	left := min(s.MaxPerDay-u.Daily, s.MaxPerWeek-u.Weekly)
	return max(left, 0)
}

// RecordApplication counts one submitted application.
func (p *Policy) RecordApplication(u *Usage) {
	p.ResetDailyIfNeeded(u)
	p.ResetWeeklyIfNeeded(u)

	u.Daily++
	u.Weekly++
	u.LastApplication = p.now()
}

// RecordOutcome tracks workflow level results. Reaching the failure threshold
// opens one backoff window; further failures inside an open window do not extend it.
// A success closes the failure streak.
func (p *Policy) RecordOutcome(u *Usage, success bool) {
	if success {
		u.ConsecutiveFailures = 0
		return
	}

	u.ConsecutiveFailures++
	now := p.now()
	if u.ConsecutiveFailures >= p.maxFailures && !now.Before(u.RateLimitedUntil) {
		u.RateLimitedUntil = now.Add(p.backoff)
	}
}

// ResetDailyIfNeeded zeroes the daily counter once the last application is from an earlier calendar day.
func (p *Policy) ResetDailyIfNeeded(u *Usage) {
	if u.LastApplication.IsZero() {
		u.Daily = 0
		return
	}
	ly, lm, ld := u.LastApplication.In(p.loc).Date()
	ny, nm, nd := p.now().In(p.loc).Date()
	if ly != ny || lm != nm || ld != nd {
		u.Daily = 0
	}
}

// ResetWeeklyIfNeeded zeroes the weekly counter once the last application is from an earlier ISO week.
func (p *Policy) ResetWeeklyIfNeeded(u *Usage) {
	if u.LastApplication.IsZero() {
		u.Weekly = 0
		return
	}
	ly, lw := u.LastApplication.In(p.loc).ISOWeek()
	ny, nw := p.now().In(p.loc).ISOWeek()
	if ly != ny || lw != nw {
		u.Weekly = 0
	}
}

// BackoffActive reports whether the user is inside a backoff window.
func (p *Policy) BackoffActive(u Usage) bool {
	return p.now().Before(u.RateLimitedUntil)
}
