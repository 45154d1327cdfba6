package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ranking"
)

const (
	DefaultLimit    = 20
	DefaultMinScore = 0.6

	oversample = 3
)

var ErrInvalidMinScore = errors.New("min score must be within [0, 1]")

// PostingSource discovers candidate postings. Errors are reported per query and
// do not invalidate the postings that were found.
type PostingSource interface {
	Search(ctx context.Context, q posting.Query) ([]*posting.Posting, []error)
}

type ProfileStore interface {
	Candidate(ctx context.Context, userID string) (*profile.Candidate, error)
	Preferences(ctx context.Context, userID string) (*profile.Preferences, error)
}

// AppliedStore returns the URLs a user has already applied to.
type AppliedStore interface {
	AppliedURLs(ctx context.Context, userID string) ([]string, error)
}

type Deps struct {
	Source   PostingSource
	Profiles ProfileStore
	// Applied is optional.
	Applied AppliedStore
	Scorer  *matching.Scorer
	Chain   *filtering.Chain
	Ranker  *ranking.Ranker
	Logger  *zap.Logger
}

// Pipeline turns candidate postings into ranked recommendations.
type Pipeline struct {
	source   PostingSource
	profiles ProfileStore
	applied  AppliedStore
	scorer   *matching.Scorer
	chain    *filtering.Chain
	ranker   *ranking.Ranker
	logger   *zap.Logger
	now      func() time.Time
}

func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Scorer == nil {
		d.Scorer = matching.NewScorer(nil, d.Logger)
	}
	if d.Chain == nil {
		d.Chain = filtering.New(d.Logger)
	}
	if d.Ranker == nil {
		d.Ranker = ranking.New()
	}
	return &Pipeline{
		source:   d.Source,
		profiles: d.Profiles,
		applied:  d.Applied,
		scorer:   d.Scorer,
		chain:    d.Chain,
		ranker:   d.Ranker,
		logger:   d.Logger,
		now:      time.Now,
	}
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

type Request struct {
	UserID string
	// Limit defaults to DefaultLimit.
	Limit int
	// MinScore is taken as given, zero keeps every match. Callers without a
	// threshold of their own pass DefaultMinScore.
	MinScore float64
	Strategy ranking.Strategy
}

func (r Request) normalize() (Request, error) {
	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return r, fmt.Errorf("%w: %v", ErrInvalidMinScore, r.MinScore)
	}
	s, err := ranking.ParseStrategy(string(r.Strategy))
	if err != nil {
		return r, err
	}
	r.Strategy = s
	return r, nil
}

// Subject is everything the pipeline knows about one user for a single run.
type Subject struct {
	UserID      string
	Candidate   *profile.Candidate
	Preferences *profile.Preferences
	Applied     filtering.AppliedSet
}

// Load reads the user's profile, preferences and applied postings.
func (p *Pipeline) Load(ctx context.Context, userID string) (*Subject, error) {
	c, err := p.profiles.Candidate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile for %s: %w", userID, err)
	}
	prefs, err := p.profiles.Preferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading preferences for %s: %w", userID, err)
	}

	applied := filtering.NewAppliedSet()
	if p.applied != nil {
		urls, err := p.applied.AppliedURLs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading applied postings for %s: %w", userID, err)
		}
		applied = filtering.NewAppliedSet(urls...)
	}

	return &Subject{UserID: userID, Candidate: c, Preferences: prefs, Applied: applied}, nil
}

// Fetch asks the source for up to limit postings matching the subject's preferences.
// It fails only when the source produced errors and no postings at all.
func (p *Pipeline) Fetch(ctx context.Context, s *Subject, limit int) ([]*posting.Posting, error) {
	q := posting.Query{Limit: limit}
	if prefs := s.Preferences; prefs != nil {
		q.Titles = prefs.Titles
		q.Locations = prefs.Locations
		q.Remote = prefs.Remote
		q.EmploymentTypes = prefs.EmploymentTypes
		q.Keywords = prefs.RequiredKeywords
	}

	found, errs := p.source.Search(ctx, q)
	log := logger.WithFields(p.logger, logger.UserFields(s.UserID, "")...)
	for _, err := range errs {
		log.Warn("posting search failed", zap.Error(err))
	}
	if len(found) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("searching postings: %w", errors.Join(errs...))
	}

	log.Debug("postings fetched", zap.Int("count", len(found)), zap.Int("errors", len(errs)))
	return found, nil
}

// Process filters, scores, thresholds and ranks the candidates. A bad posting
// is skipped with a logged reason and never fails the run.
func (p *Pipeline) Process(ctx context.Context, s *Subject, candidates []*posting.Posting, req Request) ([]*Recommendation, *Stats, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, nil, err
	}

	start := p.now()
	log := logger.WithFields(p.logger, logger.UserFields(s.UserID, "")...)
	stats := &Stats{Candidates: len(candidates)}

	seen := make(map[string]struct{}, len(candidates))
	valid := make([]*posting.Posting, 0, len(candidates))
	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			stats.Skipped++
			log.Warn("skipping malformed posting", zap.Error(err))
			continue
		}
		if _, dup := seen[c.Key()]; dup {
			stats.Skipped++
			log.Debug("skipping duplicate posting", logger.PostingFields(c.ID, c.URL)...)
			continue
		}
		seen[c.Key()] = struct{}{}
		valid = append(valid, c)
	}

	kept, dropped, report := p.chain.Run(valid, s.Preferences, s.Applied)
	stats.Filtered = len(dropped)
	stats.TopFilterReasons = report.TopReasons(5)

	matches := make([]*posting.Match, 0, len(kept))
	for _, k := range kept {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		a := p.scorer.Analyze(ctx, k, s.Candidate, s.Preferences)
		matches = append(matches, &posting.Match{Posting: k, Score: a.Score, Reasons: a.Reasons})
	}
	stats.Matched = len(matches)
	stats.Scores = ranking.Summarize(matches, 5)

	quality := make([]*posting.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score < req.MinScore {
			stats.BelowThreshold++
			continue
		}
		quality = append(quality, m)
	}
	sort.SliceStable(quality, func(i, j int) bool {
		return quality[i].Score > quality[j].Score
	})
	if len(quality) > 2*req.Limit {
		quality = quality[:2*req.Limit]
	}

	ranked, err := p.ranker.Rank(quality, s.Preferences, req.Strategy)
	if err != nil {
		return nil, nil, err
	}
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}

	now := p.now()
	out := make([]*Recommendation, 0, len(ranked))
	for i, r := range ranked {
		out = append(out, annotate(i+1, r, s.Preferences, now))
	}

	stats.Final = len(out)
	if stats.Candidates > 0 {
		stats.FilterRate = float64(stats.Filtered) / float64(stats.Candidates)
	}
	stats.Duration = p.now().Sub(start)

	log.Info("recommendations ready",
		zap.Int("candidates", stats.Candidates),
		zap.Int("skipped", stats.Skipped),
		zap.Int("filtered", stats.Filtered),
		zap.Int("matched", stats.Matched),
		zap.Int("final", stats.Final),
		zap.String("strategy", string(req.Strategy)),
	)
	return out, stats, nil
}

// Recommend runs the whole pipeline for one user.
func (p *Pipeline) Recommend(ctx context.Context, req Request) ([]*Recommendation, *Stats, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, nil, err
	}

	s, err := p.Load(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := p.Fetch(ctx, s, oversample*req.Limit)
	if err != nil {
		return nil, nil, err
	}

	return p.Process(ctx, s, candidates, req)
}
