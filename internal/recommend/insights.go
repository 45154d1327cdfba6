package recommend

import (
	"fmt"
	"time"

	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ranking"
)

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
	PriorityManual Priority = "Manual review"
)

type Level string

const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"

	DifficultyEasy   Level = "Easy"
	DifficultyMedium Level = "Medium"
	DifficultyHard   Level = "Hard"
)

// Recommendation is a ranked posting annotated for a person deciding whether to apply.
type Recommendation struct {
	Rank        int              `json:"rank"`
	Posting     *posting.Posting `json:"posting"`
	Score       float64          `json:"score"`
	RankScore   float64          `json:"rank_score"`
	Strength    string           `json:"strength"`
	Reasons     []string         `json:"reasons,omitempty"`
	Insights    []string         `json:"insights,omitempty"`
	Actions     []string         `json:"actions,omitempty"`
	Priority    Priority         `json:"priority"`
	Competition Level            `json:"competition"`
	Difficulty  Level            `json:"difficulty"`
}

// Match returns the scored match behind the recommendation.
func (r *Recommendation) Match() *posting.Match {
	return &posting.Match{Posting: r.Posting, Score: r.Score, Reasons: r.Reasons}
}

type Stats struct {
	Candidates       int                     `json:"candidates"`
	Skipped          int                     `json:"skipped"`
	Filtered         int                     `json:"filtered"`
	Matched          int                     `json:"matched"`
	BelowThreshold   int                     `json:"below_threshold"`
	Final            int                     `json:"final"`
	FilterRate       float64                 `json:"filter_rate"`
	Scores           ranking.Summary         `json:"scores"`
	TopFilterReasons []filtering.ReasonCount `json:"top_filter_reasons,omitempty"`
	Duration         time.Duration           `json:"duration"`
}

func annotate(rank int, r *ranking.Ranked, prefs *profile.Preferences, now time.Time) *Recommendation {
	if prefs == nil {
		prefs = &profile.Preferences{}
	}
	return &Recommendation{
		Rank:        rank,
		Posting:     r.Posting,
		Score:       r.Score,
		RankScore:   r.RankScore,
		Strength:    Strength(r.Score),
		Reasons:     r.Reasons,
		Insights:    Insights(r.Posting, prefs, now),
		Actions:     actions(r.Score, r.Posting, now),
		Priority:    PriorityFor(r.Score, prefs.Automation.MinMatchScore),
		Competition: Competition(r.Posting, now),
		Difficulty:  Difficulty(r.Posting),
	}
}

func Strength(score float64) string {
	switch {
	case score >= 0.85:
		return "Excellent match"
	case score >= 0.75:
		return "Very good match"
	case score >= 0.65:
		return "Good match"
	case score >= 0.55:
		return "Fair match"
	default:
		return "Potential match"
	}
}

// PriorityFor compares the score to bands above the automation threshold.
func PriorityFor(score, threshold float64) Priority {
	switch {
	case score >= threshold+0.2:
		return PriorityHigh
	case score >= threshold+0.1:
		return PriorityMedium
	case score >= threshold:
		return PriorityLow
	default:
		return PriorityManual
	}
}

func Insights(p *posting.Posting, prefs *profile.Preferences, now time.Time) []string {
	var out []string
	if p.Remote() && prefs.Remote {
		out = append(out, "Remote work opportunity matches your preference")
	}
	if p.Employer.Name != "" && prefs.PrefersEmployer(p.Employer.Name) {
		out = append(out, fmt.Sprintf("Preferred employer: %s", p.Employer.Name))
	}
	if prefs.Salary != nil && prefs.Salary.Min > 0 && p.Compensation.HasAmounts() {
		lo, hi := p.Compensation.Annual()
		if max(lo, hi) >= prefs.Salary.Min {
			out = append(out, "Salary meets your minimum requirements")
		}
	}
	if days, ok := p.AgeDays(now); ok && days <= 3 {
		out = append(out, "Recently posted job (higher chance of success)")
	}
	if p.Employer.Rating >= 4 {
		out = append(out, fmt.Sprintf("Highly rated employer (%.1f/5.0)", p.Employer.Rating))
	}
	return out
}

func actions(score float64, p *posting.Posting, now time.Time) []string {
	var out []string
	switch {
	case score >= 0.8:
		out = append(out, "Apply immediately - excellent match")
	case score >= 0.7:
		out = append(out, "High priority application")
	default:
		out = append(out, "Consider applying after reviewing details")
	}
	if days, ok := p.AgeDays(now); ok && days <= 1 {
		out = append(out, "Apply quickly - job posted recently")
	}
	if p.Employer.Rating >= 4.5 {
		out = append(out, "Research company culture - highly rated employer")
	}
	if score < 0.8 {
		out = append(out, "Consider customizing resume for better match")
	}
	return out
}

// Competition estimates how many other applicants a posting attracts.
func Competition(p *posting.Posting, now time.Time) Level {
	points := 0
	switch {
	case p.Employer.Rating >= 4.5:
		points += 2
	case p.Employer.Rating >= 4:
		points++
	}
	if p.Remote() {
		points++
	}
	if p.Compensation.HasAmounts() {
		_, hi := p.Compensation.Annual()
		switch {
		case hi > 150000:
			points += 2
		case hi > 100000:
			points++
		}
	}
	if days, ok := p.AgeDays(now); ok && days <= 1 {
		points++
	}

	switch {
	case points >= 4:
		return LevelHigh
	case points >= 2:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Difficulty estimates the effort of the application process.
func Difficulty(p *posting.Posting) Level {
	points := 2
	switch p.Site {
	case posting.SiteLinkedIn, posting.SiteIndeed:
		points = 1
	}
	if p.DirectURL != "" {
		points--
	}
	if n, ok := p.Employer.Employees(); ok && n >= 10000 {
		points++
	}

	switch {
	case points <= 1:
		return DifficultyEasy
	case points <= 3:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}
