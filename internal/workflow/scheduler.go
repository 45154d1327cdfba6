package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/activity"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/metrics"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/ratelimit"
	"github.com/spigell/autoapply/internal/recommend"
)

const (
	DefaultMaxConcurrent   = 5
	DefaultWorkflowTimeout = time.Hour
	DefaultBatchLimit      = 10
	DefaultSweepSchedule   = "@every 5m"
	DefaultRetention       = 24 * time.Hour

	persistTimeout = 5 * time.Second
)

var (
	ErrAutomationDisabled = errors.New("automation is disabled")
	ErrAlreadyRunning     = errors.New("workflow already running")
	ErrRateLimited        = errors.New("user is rate limited")
	ErrAtCapacity         = errors.New("maximum concurrent workflows reached")
	ErrNotRunning         = errors.New("no workflow running")
	ErrClosed             = errors.New("scheduler closed")

	errStopped = errors.New("workflow stopped")
)

type Config struct {
	MaxConcurrent int `mapstructure:"max-concurrent"`
	// WorkflowTimeout bounds the search and matching phases of one execution.
	WorkflowTimeout time.Duration    `mapstructure:"workflow-timeout"`
	BatchLimit      int              `mapstructure:"batch-limit"`
	SweepSchedule   string           `mapstructure:"sweep-schedule"`
	Retention       time.Duration    `mapstructure:"retention"`
	Strategy        ranking.Strategy `mapstructure:"strategy"`

	RateLimit ratelimit.Config `mapstructure:",squash"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = DefaultWorkflowTimeout
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// StateStore persists user state snapshots between restarts.
type StateStore interface {
	SaveState(ctx context.Context, userID string, state any) error
	LoadState(ctx context.Context, userID string, state any) (bool, error)
}

// AppliedRecorder remembers postings a user has applied to.
type AppliedRecorder interface {
	RecordApplied(ctx context.Context, userID string, p *posting.Posting, at time.Time) error
}

type Deps struct {
	Pipeline     *recommend.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Profiles     recommend.ProfileStore
	Policy       *ratelimit.Policy

	// Optional.
	States   StateStore
	Applied  AppliedRecorder
	Activity activity.Log
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Scheduler runs one workflow actor per user. Every user state change happens
// on that user's actor goroutine; everything else talks to it through messages.
type Scheduler struct {
	cfg          Config
	pipeline     *recommend.Pipeline
	orchestrator *orchestrator.Orchestrator
	profiles     recommend.ProfileStore
	policy       *ratelimit.Policy
	states       StateStore
	applied      AppliedRecorder
	activity     activity.Log
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	quit   chan struct{}
	runs   sync.WaitGroup

	mu     sync.Mutex
	users  map[string]*user
	cron   *cron.Cron
	closed bool

	active  atomic.Int64
	running atomic.Int64
	limited atomic.Int64
}

func New(cfg Config, d Deps) *Scheduler {
	cfg = cfg.withDefaults()
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Policy == nil {
		d.Policy = ratelimit.New(cfg.RateLimit)
	}
	if d.Activity == nil {
		d.Activity = activity.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:          cfg,
		pipeline:     d.Pipeline,
		orchestrator: d.Orchestrator,
		profiles:     d.Profiles,
		policy:       d.Policy,
		states:       d.States,
		applied:      d.Applied,
		activity:     d.Activity,
		metrics:      d.Metrics,
		logger:       d.Logger.Named("workflow"),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		slots:        make(chan struct{}, cfg.MaxConcurrent),
		quit:         make(chan struct{}),
		users:        make(map[string]*user),
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// user is the mailbox of one user's actor.
type user struct {
	id    string
	inbox chan func(*userState)
	quit  <-chan struct{}
}

// userState is owned by the actor goroutine.
type userState struct {
	UserState
	stop  context.CancelCauseFunc
	timer *time.Timer
	delay time.Duration
}

func (st *userState) stopTimer() {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (u *user) loop(st *userState) {
	for {
		select {
		case fn := <-u.inbox:
			fn(st)
		case <-u.quit:
			st.stopTimer()
			return
		}
	}
}

// do runs fn on the actor and waits for it to return.
func (u *user) do(fn func(*userState)) error {
	done := make(chan struct{})
	select {
	case u.inbox <- func(st *userState) {
		defer close(done)
		fn(st)
	}:
	case <-u.quit:
		return ErrClosed
	}
	<-done
	return nil
}

func (s *Scheduler) userFor(ctx context.Context, userID string) (*user, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if u, ok := s.users[userID]; ok {
		s.mu.Unlock()
		return u, nil
	}
	s.mu.Unlock()

	st := s.restore(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if u, ok := s.users[userID]; ok {
		return u, nil
	}

	u := &user{id: userID, inbox: make(chan func(*userState)), quit: s.quit}
	s.users[userID] = u
	if st.Active {
		s.active.Add(1)
		if !st.NextRun.IsZero() {
			s.arm(u, st, max(st.NextRun.Sub(s.now()), 0))
		}
	}
	go u.loop(st)
	return u, nil
}

func (s *Scheduler) restore(ctx context.Context, userID string) *userState {
	st := &userState{
		UserState: UserState{UserID: userID, Status: StatusIdle},
		delay:     profile.DefaultAutomationSettings().Delay,
	}
	if s.states == nil {
		return st
	}

	var snap UserState
	ok, err := s.states.LoadState(ctx, userID, &snap)
	if err != nil {
		s.logger.Warn("restoring workflow state failed", append(logger.UserFields(userID, ""), zap.Error(err))...)
		return st
	}
	if !ok {
		return st
	}

	snap.UserID = userID
	if cur := snap.Current; cur != nil {
		cur.Status = StatusError
		cur.Error = "interrupted before completion"
		cur.EndedAt = s.now()
		snap.Last, snap.Current = cur, nil
		snap.Status = StatusError
	}
	if snap.Status == "" {
		snap.Status = StatusIdle
	}
	st.UserState = snap

	s.logger.Info("workflow state restored",
		append(logger.UserFields(userID, ""),
			zap.Bool("active", snap.Active),
			zap.Int("daily", snap.Usage.Daily),
			zap.Int("weekly", snap.Usage.Weekly),
		)...,
	)
	return st
}

// arm schedules the next run of the user's workflow. It must run on the actor.
func (s *Scheduler) arm(u *user, st *userState, d time.Duration) {
	st.stopTimer()
	st.NextRun = s.now().Add(d)
	st.timer = time.AfterFunc(d, func() { s.fire(u) })
}

func (s *Scheduler) fire(u *user) {
	_, err := s.StartWorkflow(s.ctx, u.id, TriggerScheduled, false)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrAutomationDisabled), errors.Is(err, ErrClosed), errors.Is(err, ErrAlreadyRunning):
		s.logger.Debug("scheduled workflow skipped", append(logger.UserFields(u.id, ""), zap.Error(err))...)
		return
	}

	s.logger.Info("scheduled workflow deferred", append(logger.UserFields(u.id, ""), zap.Error(err))...)
	_ = u.do(func(st *userState) {
		if !st.Active || st.Current != nil {
			return
		}
		d := 2 * st.delay
		if until := st.Usage.RateLimitedUntil.Sub(s.now()); until > d {
			d = until
		}
		s.arm(u, st, d)
	})
}

// EnableAutomation validates the user's automation settings and schedules
// the first run one delay ahead. Settings with errors are refused.
func (s *Scheduler) EnableAutomation(ctx context.Context, userID string) (profile.Validation, error) {
	prefs, err := s.profiles.Preferences(ctx, userID)
	if err != nil {
		return profile.Validation{}, fmt.Errorf("loading preferences: %w", err)
	}
	v := prefs.Automation.Validate()
	if err := v.Err(); err != nil {
		return v, err
	}

	u, err := s.userFor(ctx, userID)
	if err != nil {
		return v, err
	}

	var snap *UserState
	err = u.do(func(st *userState) {
		if !st.Active {
			st.Active = true
			s.active.Add(1)
		}
		st.Usage.ConsecutiveFailures = 0
		st.delay = prefs.Automation.Delay
		if st.Current == nil {
			s.arm(u, st, st.delay)
		}
		snap = st.UserState.clone()
	})
	if err != nil {
		return v, err
	}

	log := logger.WithFields(s.logger, logger.UserFields(userID, "")...)
	for _, w := range v.Warnings {
		log.Warn("automation settings warning", zap.String("warning", w))
	}
	log.Info("automation enabled", zap.Time("next_run", snap.NextRun))

	s.record(activity.Event{
		Kind:    activity.AutomationEnabled,
		UserID:  userID,
		Details: map[string]string{"next_run": snap.NextRun.Format(time.RFC3339)},
	})
	s.persist(snap)
	s.gauges()
	return v, nil
}

// DisableAutomation deactivates the user and stops a running execution at
// the next posting boundary.
func (s *Scheduler) DisableAutomation(ctx context.Context, userID string) error {
	u, err := s.userFor(ctx, userID)
	if err != nil {
		return err
	}

	var (
		snap     *UserState
		stopping bool
	)
	err = u.do(func(st *userState) {
		if st.Active {
			st.Active = false
			s.active.Add(-1)
		}
		st.stopTimer()
		st.NextRun = time.Time{}
		if st.Current != nil && st.stop != nil {
			st.stop(errStopped)
			stopping = true
		}
		snap = st.UserState.clone()
	})
	if err != nil {
		return err
	}

	s.logger.Info("automation disabled", append(logger.UserFields(userID, ""), zap.Bool("stopping", stopping))...)
	s.record(activity.Event{Kind: activity.AutomationDisabled, UserID: userID})
	s.persist(snap)
	s.gauges()
	return nil
}

// StartWorkflow launches an execution for the user and returns its id. Force
// skips the active and backoff checks but never the capacity check.
func (s *Scheduler) StartWorkflow(ctx context.Context, userID string, trigger Trigger, force bool) (string, error) {
	u, err := s.userFor(ctx, userID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.runs.Add(1)
	s.mu.Unlock()

	var (
		exec    *Execution
		stopCtx context.Context
		denied  error
	)
	err = u.do(func(st *userState) {
		switch {
		case !st.Active && !force:
			denied = ErrAutomationDisabled
			return
		case st.Current != nil:
			denied = ErrAlreadyRunning
			return
		case !force && s.policy.BackoffActive(st.Usage):
			denied = fmt.Errorf("%w until %s", ErrRateLimited, st.Usage.RateLimitedUntil.Format(time.RFC3339))
			return
		}
		if err := checkTransition(st.Status, StatusSearching); err != nil {
			denied = err
			return
		}

		select {
		case s.slots <- struct{}{}:
		default:
			denied = ErrAtCapacity
			return
		}

		cur := &Execution{
			ID:        uuid.NewString(),
			UserID:    userID,
			Trigger:   trigger,
			Status:    StatusSearching,
			StartedAt: s.now(),
			Metadata:  map[string]string{"forced": strconv.FormatBool(force)},
		}
		st.Current = cur
		st.Status = StatusSearching
		st.stopTimer()
		st.NextRun = time.Time{}

		var stop context.CancelCauseFunc
		stopCtx, stop = context.WithCancelCause(s.ctx)
		st.stop = stop
		exec = cur.clone()
	})
	if err == nil {
		err = denied
	}
	if err != nil {
		s.runs.Done()
		return "", err
	}

	s.running.Add(1)
	s.metrics.WorkflowStarted(string(trigger))
	s.gauges()

	log := logger.WithFields(s.logger, logger.UserFields(userID, exec.ID)...)
	log.Info("workflow started", zap.String("trigger", string(trigger)), zap.Bool("forced", force))
	s.record(activity.Event{
		Kind:        activity.WorkflowStarted,
		UserID:      userID,
		ExecutionID: exec.ID,
		Details:     map[string]string{"trigger": string(trigger)},
	})

	go s.execute(stopCtx, u, exec, log)
	return exec.ID, nil
}

// StopWorkflow asks the running execution to stop. A submission already in
// flight is allowed to finish.
func (s *Scheduler) StopWorkflow(ctx context.Context, userID string) error {
	u, err := s.userFor(ctx, userID)
	if err != nil {
		return err
	}

	var id string
	err = u.do(func(st *userState) {
		if st.Current == nil || st.stop == nil {
			return
		}
		id = st.Current.ID
		st.stop(errStopped)
	})
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNotRunning
	}

	s.logger.Info("workflow stop requested", logger.UserFields(userID, id)...)
	return nil
}

// GetWorkflowStatus returns a copy of the user's state.
func (s *Scheduler) GetWorkflowStatus(ctx context.Context, userID string) (*UserState, error) {
	u, err := s.userFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	var snap *UserState
	if err := u.do(func(st *userState) { snap = st.UserState.clone() }); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Scheduler) GetRecommendations(ctx context.Context, userID string, limit int, minScore float64, strategy ranking.Strategy) ([]*recommend.Recommendation, *recommend.Stats, error) {
	return s.pipeline.Recommend(ctx, recommend.Request{
		UserID:   userID,
		Limit:    limit,
		MinScore: minScore,
		Strategy: strategy,
	})
}

func (s *Scheduler) record(e activity.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.activity.Record(e)
}

func (s *Scheduler) persist(snap *UserState) {
	if s.states == nil || snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.states.SaveState(ctx, snap.UserID, snap); err != nil {
		s.logger.Warn("saving workflow state failed", append(logger.UserFields(snap.UserID, ""), zap.Error(err))...)
	}
}

func (s *Scheduler) gauges() {
	s.metrics.Gauges(int(s.active.Load()), int(s.running.Load()), int(s.limited.Load()))
}

func (s *Scheduler) snapshotUsers() []*user {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]*user, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users
}
