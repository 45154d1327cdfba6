package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ratelimit"
	"github.com/spigell/autoapply/internal/submission"
)

const DefaultConcurrency = 3

// Customizer tailors the candidate's resume to a posting.
type Customizer interface {
	Customize(ctx context.Context, p *posting.Posting, c *profile.Candidate) (*submission.Document, error)
}

// Generator writes a cover letter for a posting.
type Generator interface {
	Generate(ctx context.Context, p *posting.Posting, c *profile.Candidate, prefs *profile.Preferences) (*submission.Document, error)
}

// Submitter sends an application, retrying on its own. *submission.Retrier implements it.
type Submitter interface {
	Submit(ctx context.Context, p *posting.Posting, content submission.Content, creds *submission.Credentials) *submission.Result
}

type Deps struct {
	Scorer *matching.Scorer
	// Customizer and Generator are optional.
	Customizer  Customizer
	Generator   Generator
	Submitter   Submitter
	Policy      *ratelimit.Policy
	Logger      *zap.Logger
	Concurrency int
}

// Orchestrator drives one posting from rule check to submission.
type Orchestrator struct {
	scorer      *matching.Scorer
	customizer  Customizer
	generator   Generator
	submitter   Submitter
	policy      *ratelimit.Policy
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Scorer == nil {
		d.Scorer = matching.NewScorer(nil, d.Logger)
	}
	if d.Policy == nil {
		d.Policy = ratelimit.New(ratelimit.Config{})
	}
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		scorer:      d.Scorer,
		customizer:  d.Customizer,
		generator:   d.Generator,
		submitter:   d.Submitter,
		policy:      d.Policy,
		logger:      d.Logger,
		concurrency: d.Concurrency,
		now:         time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

type Request struct {
	UserID      string
	Posting     *posting.Posting
	Candidate   *profile.Candidate
	Preferences *profile.Preferences
	// Usage is consulted by the rule check when set. It is never modified.
	Usage *ratelimit.Usage
	// Force skips the rule check and the score threshold.
	Force bool
}

type Result struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	PostingID   string               `json:"posting_id"`
	PostingURL  string               `json:"posting_url"`
	Status      Status               `json:"status"`
	History     []Status             `json:"history"`
	Reason      string               `json:"reason,omitempty"`
	Err         error                `json:"-"`
	Score       float64              `json:"score"`
	Analysis    *matching.Analysis   `json:"analysis,omitempty"`
	Resume      *submission.Document `json:"resume,omitempty"`
	CoverLetter *submission.Document `json:"cover_letter,omitempty"`
	Submission  *submission.Result   `json:"submission,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Duration    time.Duration        `json:"duration"`
}

func (r *Result) advance(to Status) error {
	if err := checkTransition(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	r.History = append(r.History, to)
	return nil
}

// Apply runs the whole sequence for one posting. It never returns nil and
// failures are reported through the result.
func (o *Orchestrator) Apply(ctx context.Context, req Request) *Result {
	p := req.Posting
	res := &Result{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Status:    StatusPending,
		History:   []Status{StatusPending},
		StartedAt: o.now(),
	}
	if p == nil {
		return o.fail(res, errors.New("no posting to apply to"), o.logger)
	}
	res.PostingID, res.PostingURL = p.ID, p.URL

	prefs := req.Preferences
	if prefs == nil {
		prefs = &profile.Preferences{UserID: req.UserID, Automation: profile.DefaultAutomationSettings()}
	}
	settings := prefs.Automation

	log := logger.WithFields(o.logger, append(logger.UserFields(req.UserID, ""), logger.PostingFields(p.ID, p.URL)...)...)

	if !req.Force {
		if reason, ok := o.check(req.Usage, settings); !ok {
			return o.pause(res, reason, log)
		}
	}

	if err := res.advance(StatusAnalyzing); err != nil {
		return o.fail(res, err, log)
	}
	analysis := o.scorer.Analyze(ctx, p, req.Candidate, prefs)
	res.Score = analysis.Score
	res.Analysis = &analysis
	log.Debug("posting analyzed", zap.Float64("score", analysis.Score))

	if !req.Force && analysis.Score < settings.MinMatchScore {
		return o.fail(res, fmt.Errorf("%w: match score %.2f, threshold %.2f", ErrBelowThreshold, analysis.Score, settings.MinMatchScore), log)
	}

	if err := res.advance(StatusCustomizing); err != nil {
		return o.fail(res, err, log)
	}
	resume, err := o.customize(ctx, p, req.Candidate)
	if err != nil {
		return o.fail(res, fmt.Errorf("customizing resume: %w", err), log)
	}
	res.Resume = resume

	if err := res.advance(StatusGenerating); err != nil {
		return o.fail(res, err, log)
	}
	if o.generator != nil {
		letter, err := o.generator.Generate(ctx, p, req.Candidate, prefs)
		if err != nil {
			return o.fail(res, fmt.Errorf("generating cover letter: %w", err), log)
		}
		res.CoverLetter = letter
	}

	if err := res.advance(StatusSubmitting); err != nil {
		return o.fail(res, err, log)
	}
	if o.submitter == nil {
		return o.fail(res, errors.New("no submitter configured"), log)
	}
	sub := o.submitter.Submit(ctx, p, submission.Content{Resume: res.Resume, CoverLetter: res.CoverLetter}, credentials(prefs))
	res.Submission = sub

	if sub.Status != submission.StatusSubmitted {
		return o.fail(res, fmt.Errorf("submission %s: %s", sub.Status, sub.Error), log)
	}
	if err := res.advance(StatusCompleted); err != nil {
		return o.fail(res, err, log)
	}
	o.finish(res)
	log.Info("application completed",
		zap.String("confirmation_id", sub.ConfirmationID),
		zap.Int("retry_count", sub.RetryCount),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// ApplyBatch applies to several postings with bounded concurrency. Results
// keep the order of the requests.
func (o *Orchestrator) ApplyBatch(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Apply(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	o.logger.Info("batch applied",
		zap.Int("total", len(results)),
		zap.Int("completed", counts[StatusCompleted]),
		zap.Int("failed", counts[StatusFailed]),
		zap.Int("paused", counts[StatusPaused]),
	)
	return results
}

func (o *Orchestrator) check(usage *ratelimit.Usage, s profile.AutomationSettings) (string, bool) {
	if !s.Enabled {
		return "Automation is disabled", false
	}
	if usage != nil {
		u := *usage
		if ok, reason := o.policy.MayApply(&u, s); !ok {
			return fmt.Sprintf("Rate limited: %s", reason), false
		}
	}
	if s.RequireManualApproval {
		return "Manual approval required", false
	}
	return "", true
}

func (o *Orchestrator) customize(ctx context.Context, p *posting.Posting, c *profile.Candidate) (*submission.Document, error) {
	if o.customizer != nil {
		return o.customizer.Customize(ctx, p, c)
	}
	if c == nil {
		return nil, nil
	}
	return &submission.Document{ID: "resume-" + c.UserID, Kind: "resume", Body: c.Resume}, nil
}

func (o *Orchestrator) pause(res *Result, reason string, log *zap.Logger) *Result {
	if err := res.advance(StatusPaused); err != nil {
		return o.fail(res, err, log)
	}
	res.Reason = reason
	o.finish(res)
	log.Info("application paused", zap.String("reason", reason))
	return res
}

func (o *Orchestrator) fail(res *Result, err error, log *zap.Logger) *Result {
	if !res.Status.Terminal() {
		res.Status = StatusFailed
		res.History = append(res.History, StatusFailed)
	}
	res.Err = err
	res.Reason = err.Error()
	o.finish(res)
	log.Warn("application failed", zap.Error(err))
	return res
}

func (o *Orchestrator) finish(res *Result) {
	res.CompletedAt = o.now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
}

func credentials(prefs *profile.Preferences) *submission.Credentials {
	if prefs.Credentials == nil {
		return nil
	}
	return &submission.Credentials{
		Username: prefs.Credentials.Username,
		Password: prefs.Credentials.Password,
	}
}
