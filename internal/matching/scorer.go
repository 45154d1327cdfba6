package matching

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

const (
	vectorWeight     = 0.40
	preferenceWeight = 0.35
	contentWeight    = 0.25

	titleWeight          = 0.30
	locationWeight       = 0.25
	salaryWeight         = 0.20
	employerWeight       = 0.15
	employmentTypeWeight = 0.10

	skillsWeight     = 0.50
	experienceWeight = 0.30
	industryWeight   = 0.20

	neutral = 0.5

	// ReasonThreshold is the minimum sub-score that produces a reason line.
	ReasonThreshold = 0.7
)

// SimilarityOracle returns a precomputed semantic similarity between a posting and a profile.
type SimilarityOracle interface {
	Similarity(ctx context.Context, p *posting.Posting, userID string) (float64, error)
}

// Breakdown holds every sub-score that contributed to a match.
type Breakdown struct {
	Vector     float64 `json:"vector"`
	Preference float64 `json:"preference"`
	Content    float64 `json:"content"`

	Title          float64 `json:"title"`
	Location       float64 `json:"location"`
	Salary         float64 `json:"salary"`
	Employer       float64 `json:"employer"`
	EmploymentType float64 `json:"employment_type"`

	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Industry   float64 `json:"industry"`
}

type Analysis struct {
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons"`
	Breakdown Breakdown `json:"breakdown"`
}

type Scorer struct {
	oracle SimilarityOracle
	logger *zap.Logger
}

// NewScorer creates a scorer. The oracle may be nil, in which case the vector
// component is neutral.
func NewScorer(oracle SimilarityOracle, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{oracle: oracle, logger: logger}
}

// Score returns the bounded match score and the human readable reasons.
func (s *Scorer) Score(ctx context.Context, p *posting.Posting, c *profile.Candidate, prefs *profile.Preferences) (float64, []string) {
	a := s.Analyze(ctx, p, c, prefs)
	return a.Score, a.Reasons
}

func (s *Scorer) Analyze(ctx context.Context, p *posting.Posting, c *profile.Candidate, prefs *profile.Preferences) Analysis {
	if c == nil {
		c = &profile.Candidate{}
	}
	if prefs == nil {
		prefs = &profile.Preferences{}
	}

	var b Breakdown
	b.Vector = s.vector(ctx, p, c.UserID)

	b.Title = TitleScore(p.Title, prefs.Titles)
	b.Location = LocationScore(p.Location, prefs)
	b.Salary = SalaryScore(p.Compensation, prefs.Salary)
	b.Employer = employerScore(p.Employer.Name, prefs)
	b.EmploymentType = employmentTypeScore(p.EmploymentTypes, prefs.EmploymentTypes)
	b.Preference = titleWeight*b.Title +
		locationWeight*b.Location +
		salaryWeight*b.Salary +
		employerWeight*b.Employer +
		employmentTypeWeight*b.EmploymentType

	b.Skills = skillsScore(c.Skills, PostingSkills(p))
	b.Experience = ExperienceScore(c.ExperienceYears, p.Description)
	b.Industry = industryScore(c.Industries, p.Employer.Industry)
	b.Content = skillsWeight*b.Skills + experienceWeight*b.Experience + industryWeight*b.Industry

	score := clamp(vectorWeight*b.Vector + preferenceWeight*b.Preference + contentWeight*b.Content)

	return Analysis{
		Score:     score,
		Reasons:   reasons(score, b, p, prefs),
		Breakdown: b,
	}
}

func (s *Scorer) vector(ctx context.Context, p *posting.Posting, userID string) float64 {
	if s.oracle == nil {
		return neutral
	}
	v, err := s.oracle.Similarity(ctx, p, userID)
	if err != nil {
		s.logger.Debug("similarity lookup failed, using neutral value",
			zap.String("posting_url", p.URL),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return neutral
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return neutral
	}
	return clamp(v)
}

func reasons(score float64, b Breakdown, p *posting.Posting, prefs *profile.Preferences) []string {
	var out []string

	switch {
	case score >= 0.8:
		out = append(out, "Excellent overall match")
	case score >= 0.7:
		out = append(out, "Very good match")
	case score >= 0.6:
		out = append(out, "Good match")
	case score >= 0.5:
		out = append(out, "Fair match")
	default:
		out = append(out, "Limited match")
	}

	add := func(v float64, label string) {
		if v >= ReasonThreshold {
			out = append(out, fmt.Sprintf("%s (%.0f%%)", label, v*100))
		}
	}
	add(b.Vector, "Strong profile similarity")
	add(b.Preference, "Matches your preferences")
	add(b.Content, "Matches your skills and experience")
	add(b.Title, "Title matches your target roles")
	add(b.Skills, "Skills overlap")

	if p.Remote() {
		out = append(out, "Remote opportunity")
	}
	if prefs.PrefersEmployer(p.Employer.Name) {
		out = append(out, "Preferred employer")
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
