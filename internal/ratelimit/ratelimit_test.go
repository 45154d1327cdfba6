package ratelimit

import (
	"testing"
	"time"

	"github.com/spigell/autoapply/internal/profile"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newPolicy(c *clock) *Policy {
	return New(Config{}).WithClock(c.now).WithLocation(time.UTC)
}

func TestMayApplyDailyLimit(t *testing.T) {
	c := &clock{t: time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)}
	p := newPolicy(c)
	settings := profile.DefaultAutomationSettings()

	var u Usage
	for i := 0; i < 5; i++ {
		ok, reason := p.MayApply(&u, settings)
		if !ok {
			t.Fatalf("attempt %d denied: %s", i+1, reason)
		}
		p.RecordApplication(&u)
		c.t = c.t.Add(time.Minute)
	}

	ok, reason := p.MayApply(&u, settings)
	if ok || reason != ReasonDailyLimit {
		t.Fatalf("expected daily limit, got (%v, %q)", ok, reason)
	}
	if string(reason) != "daily limit" {
		t.Fatalf("unexpected reason text %q", reason)
	}
}

func TestWeeklyLimitAndCalendarResets(t *testing.T) {
	// Wednesday
	c := &clock{t: time.Date(2024, 6, 5, 23, 0, 0, 0, time.UTC)}
	p := newPolicy(c)
	settings := profile.AutomationSettings{MaxPerDay: 5, MaxPerWeek: 6}

	u := Usage{Daily: 5, Weekly: 6, LastApplication: c.t}
	if ok, reason := p.MayApply(&u, settings); ok || reason != ReasonDailyLimit {
		t.Fatalf("expected daily limit first, got (%v, %q)", ok, reason)
	}

	// Thursday: daily resets, weekly does not.
	c.t = c.t.Add(2 * time.Hour)
	if ok, reason := p.MayApply(&u, settings); ok || reason != ReasonWeeklyLimit {
		t.Fatalf("expected weekly limit, got (%v, %q)", ok, reason)
	}
	if u.Daily != 0 || u.Weekly != 6 {
		t.Fatalf("unexpected counters %+v", u)
	}

	// Next Monday: new ISO week.
	c.t = time.Date(2024, 6, 10, 0, 30, 0, 0, time.UTC)
	if ok, _ := p.MayApply(&u, settings); !ok {
		t.Fatalf("expected application to be allowed in a new week")
	}
	if u.Weekly != 0 {
		t.Fatalf("expected weekly counter reset, got %d", u.Weekly)
	}
}

func TestRemaining(t *testing.T) {
	c := &clock{t: time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)}
	p := newPolicy(c)
	u := Usage{Daily: 2, Weekly: 24, LastApplication: c.t}

	if got := p.Remaining(&u, profile.DefaultAutomationSettings()); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	u.Weekly = 30
	if got := p.Remaining(&u, profile.DefaultAutomationSettings()); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestBackoffIsSetOnce(t *testing.T) {
	start := time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	p := New(Config{MaxConsecutiveFailures: 3, Backoff: time.Hour}).WithClock(c.now).WithLocation(time.UTC)

	var u Usage
	p.RecordOutcome(&u, false)
	p.RecordOutcome(&u, false)
	if !u.RateLimitedUntil.IsZero() {
		t.Fatalf("backoff opened too early")
	}

	c.t = start.Add(10 * time.Minute)
	p.RecordOutcome(&u, false)
	want := start.Add(10 * time.Minute).Add(time.Hour)
	if !u.RateLimitedUntil.Equal(want) {
		t.Fatalf("expected backoff until %s, got %s", want, u.RateLimitedUntil)
	}

	c.t = start.Add(20 * time.Minute)
	p.RecordOutcome(&u, false)
	if !u.RateLimitedUntil.Equal(want) {
		t.Fatalf("backoff was extended to %s", u.RateLimitedUntil)
	}

	if ok, reason := p.MayApply(&u, profile.DefaultAutomationSettings()); ok || reason != ReasonBackoff {
		t.Fatalf("expected backoff denial, got (%v, %q)", ok, reason)
	}

	c.t = want.Add(time.Second)
	if ok, _ := p.MayApply(&u, profile.DefaultAutomationSettings()); !ok {
		t.Fatalf("expected applications to resume after the window")
	}

	p.RecordOutcome(&u, true)
	if u.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures to reset after success, got %d", u.ConsecutiveFailures)
	}
}
