package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/activity"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ratelimit"
	"github.com/spigell/autoapply/internal/recommend"
	"github.com/spigell/autoapply/internal/utils"
)

// searchFactor is how many postings are requested per batch slot.
const searchFactor = 3

var sleep = utils.WaitFor

type outcome struct {
	status Status
	err    error
	reason string
	delay  time.Duration
}

func stopped(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errStopped)
}

func (o outcome) end(ctx context.Context, err error) outcome {
	if stopped(ctx) {
		o.status = StatusStopped
		return o
	}
	o.status = StatusError
	o.err = err
	return o
}

func (s *Scheduler) execute(stopCtx context.Context, u *user, exec *Execution, log *zap.Logger) {
	defer s.runs.Done()

	out := s.run(stopCtx, u, exec, log)
	s.finish(u, exec, out, log)
}

// run takes one execution from searching to the end of the applying phase.
// Stop requests interrupt searching and matching, and are checked between
// postings while applying.
func (s *Scheduler) run(stopCtx context.Context, u *user, exec *Execution, log *zap.Logger) outcome {
	out := outcome{}

	discoverCtx, cancel := context.WithTimeout(stopCtx, s.cfg.WorkflowTimeout)
	defer cancel()

	subject, err := s.pipeline.Load(discoverCtx, exec.UserID)
	if err != nil {
		return out.end(stopCtx, err)
	}
	if subject.Preferences == nil {
		subject.Preferences = &profile.Preferences{UserID: exec.UserID, Automation: profile.DefaultAutomationSettings()}
	}
	settings := subject.Preferences.Automation
	settings.Enabled = true
	if settings.Delay <= 0 {
		settings.Delay = profile.DefaultAutomationSettings().Delay
	}
	subject.Preferences.Automation = settings
	out.delay = settings.Delay

	found, err := s.pipeline.Fetch(discoverCtx, subject, searchFactor*s.cfg.BatchLimit)
	if err != nil {
		return out.end(stopCtx, err)
	}
	if err := u.do(func(st *userState) { st.Current.Counts.Found = len(found) }); err != nil {
		return out.end(stopCtx, err)
	}

	if err := s.advance(u, StatusMatching); err != nil {
		return out.end(stopCtx, err)
	}
	recs, stats, err := s.pipeline.Process(discoverCtx, subject, found, recommend.Request{
		UserID:   exec.UserID,
		Limit:    s.cfg.BatchLimit,
		MinScore: settings.MinMatchScore,
		Strategy: s.cfg.Strategy,
	})
	if err != nil {
		return out.end(stopCtx, err)
	}
	s.metrics.Pipeline(stats.Candidates, stats.Filtered, stats.Final)

	var usage ratelimit.Usage
	err = u.do(func(st *userState) {
		st.Current.Counts.Matched = len(recs)
		usage = st.Usage
	})
	if err != nil {
		return out.end(stopCtx, err)
	}
	if stopped(stopCtx) {
		out.status = StatusStopped
		return out
	}

	if ok, reason := s.policy.MayApply(&usage, settings); !ok {
		log.Info("application limit reached before applying", zap.String("reason", string(reason)))
		out.status = StatusRateLimited
		out.reason = string(reason)
		return out
	}
	if left := s.policy.Remaining(&usage, settings); len(recs) > left {
		recs = recs[:left]
	}

	if err := s.advance(u, StatusApplying); err != nil {
		return out.end(stopCtx, err)
	}
	log.Info("applying to postings", zap.Int("found", len(found)), zap.Int("selected", len(recs)))

	for i, rec := range recs {
		if stopped(stopCtx) {
			break
		}
		if i > 0 {
			if err := sleep(stopCtx, settings.Delay); err != nil {
				break
			}
		}

		err := u.do(func(st *userState) { usage = st.Usage })
		if err != nil {
			return out.end(stopCtx, err)
		}
		if ok, reason := s.policy.MayApply(&usage, settings); !ok {
			log.Info("application limit reached", zap.String("reason", string(reason)))
			break
		}

		res := s.orchestrator.Apply(s.ctx, orchestrator.Request{
			UserID:      exec.UserID,
			Posting:     rec.Posting,
			Candidate:   subject.Candidate,
			Preferences: subject.Preferences,
			Usage:       &usage,
		})
		s.recordResult(u, exec, rec.Posting, res, log)
	}

	if stopped(stopCtx) {
		out.status = StatusStopped
		return out
	}
	out.status = StatusIdle
	return out
}

func (s *Scheduler) advance(u *user, to Status) error {
	var terr error
	err := u.do(func(st *userState) {
		if terr = checkTransition(st.Status, to); terr != nil {
			return
		}
		st.Status = to
		st.Current.Status = to
	})
	if err != nil {
		return err
	}
	return terr
}

func (s *Scheduler) recordResult(u *user, exec *Execution, p *posting.Posting, res *orchestrator.Result, log *zap.Logger) {
	var kind activity.Kind
	switch res.Status {
	case orchestrator.StatusCompleted:
		kind = activity.ApplicationSubmitted
		_ = u.do(func(st *userState) {
			s.policy.RecordApplication(&st.Usage)
			st.Current.Counts.Submitted++
		})
		if s.applied != nil {
			if err := s.applied.RecordApplied(s.ctx, exec.UserID, p, s.now()); err != nil {
				log.Warn("recording applied posting failed", zap.String("posting_url", res.PostingURL), zap.Error(err))
			}
		}
	case orchestrator.StatusPaused:
		kind = activity.ApplicationPaused
		_ = u.do(func(st *userState) { st.Current.Counts.Paused++ })
	default:
		kind = activity.ApplicationFailed
		_ = u.do(func(st *userState) { st.Current.Counts.Failed++ })
	}
	s.metrics.Application(string(res.Status))

	details := map[string]string{
		"status": string(res.Status),
		"score":  fmt.Sprintf("%.2f", res.Score),
	}
	if res.Submission != nil && res.Submission.ConfirmationID != "" {
		details["confirmation_id"] = res.Submission.ConfirmationID
	}
	s.record(activity.Event{
		Kind:        kind,
		UserID:      exec.UserID,
		ExecutionID: exec.ID,
		PostingID:   res.PostingID,
		PostingURL:  res.PostingURL,
		Message:     res.Reason,
		Details:     details,
	})
}

func (s *Scheduler) finish(u *user, exec *Execution, out outcome, log *zap.Logger) {
	defer func() {
		<-s.slots
		s.running.Add(-1)
		s.gauges()
	}()

	now := s.now()

	var snap *UserState
	err := u.do(func(st *userState) {
		if err := checkTransition(st.Status, out.status); err != nil {
			log.Error("unexpected workflow transition", zap.Error(err))
		}
		cur := st.Current
		cur.Status = out.status
		cur.EndedAt = now
		if out.err != nil {
			cur.Error = out.err.Error()
		}
		if out.reason != "" {
			cur.Metadata["reason"] = out.reason
		}

		switch out.status {
		case StatusIdle:
			s.policy.RecordOutcome(&st.Usage, true)
		case StatusError:
			s.policy.RecordOutcome(&st.Usage, false)
		case StatusStopped, StatusRateLimited:
		case StatusSearching, StatusMatching, StatusApplying:
			log.Error("execution finished in a running status", zap.String("status", string(out.status)))
		}

		st.Status = out.status
		st.Last, st.Current = cur, nil
		if st.stop != nil {
			st.stop(nil)
			st.stop = nil
		}

		if out.delay > 0 {
			st.delay = out.delay
		}
		if st.Active {
			s.arm(u, st, 2*st.delay)
		}
		snap = st.UserState.clone()
	})
	if err != nil {
		log.Warn("workflow finished after shutdown", zap.String("status", string(out.status)))
		return
	}

	last := snap.Last
	duration := last.EndedAt.Sub(last.StartedAt)
	s.metrics.WorkflowFinished(string(out.status), duration)

	fields := []zap.Field{
		zap.String("status", string(out.status)),
		zap.Duration("duration", duration),
		zap.Int("found", last.Counts.Found),
		zap.Int("matched", last.Counts.Matched),
		zap.Int("submitted", last.Counts.Submitted),
		zap.Int("failed", last.Counts.Failed),
		zap.Int("paused", last.Counts.Paused),
	}
	if !snap.NextRun.IsZero() {
		fields = append(fields, zap.Time("next_run", snap.NextRun))
	}

	e := activity.Event{
		UserID:      exec.UserID,
		ExecutionID: exec.ID,
		Message:     last.Error,
		Details: map[string]string{
			"submitted": fmt.Sprint(last.Counts.Submitted),
			"failed":    fmt.Sprint(last.Counts.Failed),
		},
	}
	switch out.status {
	case StatusError:
		e.Kind = activity.WorkflowFailed
		log.Warn("workflow failed", append(fields, zap.Error(out.err))...)
	case StatusStopped:
		e.Kind = activity.WorkflowStopped
		log.Info("workflow stopped", fields...)
	case StatusRateLimited:
		e.Kind = activity.WorkflowRateLimited
		e.Message = out.reason
		log.Info("workflow rate limited", fields...)
	default:
		e.Kind = activity.WorkflowCompleted
		log.Info("workflow completed", fields...)
	}
	s.record(e)

	s.persist(snap)
}
