package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/autoapply/internal/posting"
)

type step struct {
	out Outcome
	err error
}

type scriptedSubmitter struct {
	steps []step
	calls int
}

func (s *scriptedSubmitter) Submit(_ context.Context, _ *posting.Posting, _ Content, _ *Credentials) (Outcome, error) {
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	return st.out, st.err
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &slept
}

var testPosting = &posting.Posting{ID: "42", URL: "https://board.example/jobs/42"}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	slept := recordSleeps(t)
	sub := &scriptedSubmitter{steps: []step{
		{err: errors.New("connection reset")},
		{out: Outcome{Status: StatusFailed, ErrorKind: ErrSiteUnavailable, Message: "502"}},
		{out: Outcome{Status: StatusSubmitted, ConfirmationID: "conf-1"}},
	}}

	r := NewRetrier(sub, Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, nil)
	res := r.Submit(context.Background(), testPosting, Content{}, nil)

	if res.Status != StatusSubmitted || res.RetryCount != 3 {
		t.Fatalf("expected submitted after 3 attempts, got %s/%d", res.Status, res.RetryCount)
	}
	if res.ConfirmationID != "conf-1" || res.Error != "" || res.SubmittedAt.IsZero() {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("expected doubling sleeps [1s 2s], got %v", *slept)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("expected every attempt recorded, got %d", len(res.Attempts))
	}
	if res.Attempts[0].ErrorKind != ErrNetwork || res.Attempts[1].ErrorKind != ErrSiteUnavailable {
		t.Fatalf("unexpected attempt kinds %+v", res.Attempts)
	}
	if res.Attempts[2].Status != StatusSubmitted {
		t.Fatalf("expected final attempt to be submitted, got %s", res.Attempts[2].Status)
	}
}

func TestRetrierTerminalKinds(t *testing.T) {
	tests := []struct {
		name  string
		kind  ErrorKind
		creds *Credentials
	}{
		{name: "captcha", kind: ErrCaptchaRequired},
		{name: "invalid credentials", kind: ErrInvalidCredentials, creds: &Credentials{Username: "a", Password: "b"}},
		{name: "login without credentials", kind: ErrLoginRequired},
		{name: "form missing", kind: ErrFormNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slept := recordSleeps(t)
			sub := &scriptedSubmitter{steps: []step{{out: Outcome{Status: StatusFailed, ErrorKind: tt.kind, Message: "blocked"}}}}

			res := NewRetrier(sub, Config{}, nil).Submit(context.Background(), testPosting, Content{}, tt.creds)
			if res.Status != StatusRequiresManual {
				t.Fatalf("expected manual review, got %s", res.Status)
			}
			if sub.calls != 1 || res.RetryCount != 1 || len(*slept) != 0 {
				t.Fatalf("expected a single attempt without sleeping, calls=%d sleeps=%v", sub.calls, *slept)
			}
			if res.ErrorKind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, res.ErrorKind)
			}
		})
	}
}

func TestRetrierLoginWithCredentialsIsRetried(t *testing.T) {
	recordSleeps(t)
	sub := &scriptedSubmitter{steps: []step{
		{out: Outcome{Status: StatusFailed, ErrorKind: ErrLoginRequired}},
		{out: Outcome{Status: StatusSubmitted}},
	}}

	res := NewRetrier(sub, Config{}, nil).Submit(context.Background(), testPosting, Content{}, &Credentials{Username: "u", Password: "p"})
	if res.Status != StatusSubmitted || res.RetryCount != 2 {
		t.Fatalf("expected retry with credentials, got %s/%d", res.Status, res.RetryCount)
	}
}

func TestRetrierExhaustion(t *testing.T) {
	slept := recordSleeps(t)
	core, logs := observer.New(zapcore.InfoLevel)
	sub := &scriptedSubmitter{steps: []step{
		{out: Outcome{Status: StatusRateLimited, Message: "slow down"}},
		{out: Outcome{Status: StatusFailed, ErrorKind: ErrTimeout, Message: "first"}},
		{out: Outcome{Status: StatusFailed, ErrorKind: ErrTimeout, Message: "last"}},
	}}

	r := NewRetrier(sub, Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 90 * time.Second}, zap.New(core))
	res := r.Submit(context.Background(), testPosting, Content{}, nil)

	if res.Status != StatusFailed || res.Error != "last" || res.ErrorKind != ErrTimeout {
		t.Fatalf("expected failure with last error, got %+v", res)
	}
	if res.RetryCount != 3 || len(res.Attempts) != 3 || len(*slept) != 2 {
		t.Fatalf("unexpected attempt bookkeeping: %d attempts, sleeps %v", len(res.Attempts), *slept)
	}
	if res.Attempts[0].ErrorKind != ErrRateLimited {
		t.Fatalf("expected rate limited kind for first attempt, got %s", res.Attempts[0].ErrorKind)
	}
	if logs.FilterMessage("rate limited by site, backing off").Len() != 1 {
		t.Fatalf("expected a distinct rate limit log entry")
	}
	if logs.FilterMessage("submission failed after retries").Len() != 1 {
		t.Fatalf("expected exhaustion to be logged")
	}
}

func TestRetrierStopsWhenContextIsCancelled(t *testing.T) {
	orig := sleep
	sleep = func(context.Context, time.Duration) error { return context.Canceled }
	t.Cleanup(func() { sleep = orig })

	sub := &scriptedSubmitter{steps: []step{{out: Outcome{Status: StatusFailed, ErrorKind: ErrNetwork}}}}
	res := NewRetrier(sub, Config{}, nil).Submit(context.Background(), testPosting, Content{}, nil)

	if res.Status != StatusFailed || sub.calls != 1 {
		t.Fatalf("expected failure after cancelled backoff, got %s with %d calls", res.Status, sub.calls)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	r := NewRetrier(nil, Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := r.Backoff(i); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	t.Parallel()

	if got := kindFromError(context.DeadlineExceeded); got != ErrTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := kindFromError(errors.New("dial tcp: refused")); got != ErrNetwork {
		t.Fatalf("expected network error, got %s", got)
	}
	if Classify(ErrUnknown, false) != Retryable || Classify(ErrUploadFailed, true) != Terminal {
		t.Fatalf("unexpected classification")
	}
}

func TestCredentialsPresent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{name: "nil", creds: nil},
		{name: "username only", creds: &Credentials{Username: "alice"}},
		{name: "password only", creds: &Credentials{Password: "secret"}},
		{name: "both", creds: &Credentials{Username: "alice", Password: "secret"}, want: true},
	}
	for _, tt := range tests {
		if got := tt.creds.Present(); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
