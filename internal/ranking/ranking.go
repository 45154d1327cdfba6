package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

type Strategy string

const (
	ByMatchScore     Strategy = "match_score"
	ByDatePosted     Strategy = "date_posted"
	BySalary         Strategy = "salary"
	ByEmployerRating Strategy = "employer_rating"
	ByLocation       Strategy = "location"
	Combined         Strategy = "combined"
)

var ErrUnknownStrategy = errors.New("unknown ranking strategy")

var strategies = []Strategy{ByMatchScore, ByDatePosted, BySalary, ByEmployerRating, ByLocation, Combined}

func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// ParseStrategy converts a name into a Strategy. An empty name means Combined.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Combined, nil
	}
	for _, s := range strategies {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Ranked is a match together with the key it was ordered by.
type Ranked struct {
	*posting.Match
	RankScore float64 `json:"rank_score"`
}

type Ranker struct {
	now func() time.Time
}

func New() *Ranker {
	return &Ranker{now: time.Now}
}

// WithClock replaces the time source used for freshness.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Rank orders non filtered matches by the strategy, highest first. Ties keep the input order.
func (r *Ranker) Rank(matches []*posting.Match, prefs *profile.Preferences, strategy Strategy) ([]*Ranked, error) {
	if prefs == nil {
		prefs = &profile.Preferences{}
	}
	key, err := r.keyFunc(strategy, prefs)
	if err != nil {
		return nil, err
	}

	out := make([]*Ranked, 0, len(matches))
	for _, m := range matches {
		if m == nil || m.FilteredOut || m.Posting == nil {
			continue
		}
		out = append(out, &Ranked{Match: m, RankScore: key(m)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RankScore > out[j].RankScore
	})
	return out, nil
}

func (r *Ranker) keyFunc(strategy Strategy, prefs *profile.Preferences) (func(*posting.Match) float64, error) {
	now := r.now()
	switch strategy {
	case ByMatchScore:
		return func(m *posting.Match) float64 { return m.Score }, nil
	case ByDatePosted:
		return func(m *posting.Match) float64 { return Freshness(m.Posting, now) }, nil
	case BySalary:
		return func(m *posting.Match) float64 { return SalaryAlignment(m.Posting.Compensation, prefs.Salary) }, nil
	case ByEmployerRating:
		return func(m *posting.Match) float64 { return EmployerQuality(m.Posting.Employer) }, nil
	case ByLocation:
		return func(m *posting.Match) float64 { return LocationPreference(m.Posting.Location, prefs) }, nil
	case Combined:
		return func(m *posting.Match) float64 { return CombinedScore(m, prefs, now) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// CombinedScore blends match quality with freshness, pay, employer and ease of applying.
func CombinedScore(m *posting.Match, prefs *profile.Preferences, now time.Time) float64 {
	p := m.Posting
	return 0.50*m.Score +
		0.20*Freshness(p, now) +
		0.15*SalaryAlignment(p.Compensation, prefs.Salary) +
		0.10*EmployerQuality(p.Employer) +
		0.05*ApplicationEase(p)
}

func Freshness(p *posting.Posting, now time.Time) float64 {
	days, ok := p.AgeDays(now)
	if !ok {
		return 0.3
	}
	switch {
	case days <= 1:
		return 1
	case days <= 3:
		return 0.9
	case days <= 7:
		return 0.7
	case days <= 14:
		return 0.5
	case days <= 30:
		return 0.3
	default:
		return 0.1
	}
}

func SalaryAlignment(c *posting.Compensation, want *profile.SalaryRange) float64 {
	if !c.HasAmounts() || want == nil || (want.Min <= 0 && want.Max <= 0) {
		return 0.5
	}
	lo, hi := c.Annual()
	if hi <= 0 {
		hi = lo
	}

	upper := math.Inf(1)
	if want.Max > 0 {
		upper = want.Max * 1.1
	}
	switch {
	case hi >= want.Min && hi <= upper:
		return 1
	case hi > upper:
		return 0.7
	case hi >= want.Min*0.9:
		return 0.8
	default:
		return 0.2
	}
}

func EmployerQuality(e posting.Employer) float64 {
	score := 0.5
	if e.Rating > 0 {
		score += math.Min(e.Rating, 5) / 5 * 0.4
	}
	if n, ok := e.Employees(); ok {
		switch {
		case n >= 10000:
			score += 0.2
		case n >= 1000:
			score += 0.15
		case n >= 100:
			score += 0.1
		}
	}
	if e.ReviewsCount > 100 {
		score += 0.1
	}
	return math.Min(score, 1)
}

func ApplicationEase(p *posting.Posting) float64 {
	score := 0.5
	if strings.TrimSpace(p.DirectURL) != "" {
		score += 0.3
	}
	switch p.Site {
	case posting.SiteLinkedIn:
		score += 0.2
	case posting.SiteIndeed:
		score += 0.15
	case posting.SiteGlassdoor:
		score += 0.1
	}
	return math.Min(score, 1)
}

func LocationPreference(loc posting.Location, prefs *profile.Preferences) float64 {
	if prefs.Remote && loc.Remote {
		return 1
	}
	if len(prefs.Locations) == 0 {
		return 0.5
	}
	l := strings.ToLower(loc.String())
	if l == "" {
		return 0.3
	}
	best := 0.2
	for _, want := range prefs.Locations {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		if want == l {
			return 1
		}
		if strings.Contains(l, want) || strings.Contains(want, l) {
			best = 0.8
		}
	}
	return best
}
