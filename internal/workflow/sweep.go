package workflow

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Stats aggregates the state of every known user.
type Stats struct {
	ActiveUsers       int `json:"active_users"`
	RunningWorkflows  int `json:"running_workflows"`
	Capacity          int `json:"capacity"`
	ApplicationsToday int `json:"applications_today"`
	ApplicationsWeek  int `json:"applications_week"`
	RateLimitedUsers  int `json:"rate_limited_users"`
}

// Start registers the housekeeping sweep and starts the cron scheduler.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cron != nil {
		return nil
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.cfg.SweepSchedule, s.Sweep); err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", s.cfg.SweepSchedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started",
		zap.String("sweep", s.cfg.SweepSchedule),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
	return nil
}

// Sweep drops finished executions older than the retention and applies
// calendar counter resets for every user.
func (s *Scheduler) Sweep() {
	cutoff := s.now().Add(-s.cfg.Retention)
	cleared := 0
	for _, u := range s.snapshotUsers() {
		_ = u.do(func(st *userState) {
			if st.Last != nil && !st.Last.EndedAt.IsZero() && st.Last.EndedAt.Before(cutoff) {
				st.Last = nil
				cleared++
			}
			s.policy.ResetDailyIfNeeded(&st.Usage)
			s.policy.ResetWeeklyIfNeeded(&st.Usage)
		})
	}

	stats := s.Stats()
	s.logger.Debug("sweep done",
		zap.Int("cleared", cleared),
		zap.Int("active_users", stats.ActiveUsers),
		zap.Int("rate_limited_users", stats.RateLimitedUsers),
	)
}

// Stats collects aggregated counters and mirrors them to the gauges.
func (s *Scheduler) Stats() Stats {
	stats := Stats{Capacity: s.cfg.MaxConcurrent}
	for _, u := range s.snapshotUsers() {
		_ = u.do(func(st *userState) {
			usage := st.Usage
			s.policy.ResetDailyIfNeeded(&usage)
			s.policy.ResetWeeklyIfNeeded(&usage)
			stats.ApplicationsToday += usage.Daily
			stats.ApplicationsWeek += usage.Weekly
			if s.policy.BackoffActive(usage) {
				stats.RateLimitedUsers++
			}
		})
	}
	stats.ActiveUsers = int(s.active.Load())
	stats.RunningWorkflows = int(s.running.Load())

	s.limited.Store(int64(stats.RateLimitedUsers))
	s.gauges()
	return stats
}

// Close stops the sweep and asks running executions to stop, then waits for
// them until ctx is done. Submissions in flight are cancelled only when ctx
// expires first.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.cron
	users := make([]*user, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	for _, u := range users {
		_ = u.do(func(st *userState) {
			st.stopTimer()
			if st.stop != nil {
				st.stop(errStopped)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.cancel()
	close(s.quit)
	s.logger.Info("scheduler closed", zap.Int("users", len(users)), zap.Error(err))
	return err
}
