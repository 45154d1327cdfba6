package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinApplicationDelay = 5 * time.Minute
	MaxApplicationDelay = 24 * time.Hour
)

var ErrInvalidSettings = errors.New("invalid automation settings")

// AutomationSettings controls how aggressively the scheduler applies for the user.
type AutomationSettings struct {
	Enabled               bool          `mapstructure:"enabled"`
	MaxPerDay             int           `mapstructure:"max-per-day"`
	MaxPerWeek            int           `mapstructure:"max-per-week"`
	MinMatchScore         float64       `mapstructure:"min-match-score"`
	RequireManualApproval bool          `mapstructure:"require-manual-approval"`
	Delay                 time.Duration `mapstructure:"delay"`
}

func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		Enabled:       true,
		MaxPerDay:     5,
		MaxPerWeek:    25,
		MinMatchScore: 0.7,
		Delay:         30 * time.Minute,
	}
}

// Validation collects problems found in automation settings.
// Only Errors block enabling automation.
type Validation struct {
	Errors          []string
	Warnings        []string
	Recommendations []string
}

func (v Validation) Valid() bool {
	return len(v.Errors) == 0
}

// Err returns nil for valid settings, otherwise ErrInvalidSettings with the details.
func (v Validation) Err() error {
	if v.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(v.Errors, "; "))
}

func (s AutomationSettings) Validate() Validation {
	var v Validation

	if s.MaxPerDay < 1 || s.MaxPerDay > 50 {
		v.Errors = append(v.Errors, fmt.Sprintf("max per day must be between 1 and 50, got %d", s.MaxPerDay))
	}
	if s.MaxPerWeek < 1 || s.MaxPerWeek > 200 {
		v.Errors = append(v.Errors, fmt.Sprintf("max per week must be between 1 and 200, got %d", s.MaxPerWeek))
	}
	if s.MaxPerWeek < s.MaxPerDay {
		v.Errors = append(v.Errors, "max per week must not be lower than max per day")
	}
	if s.MinMatchScore < 0 || s.MinMatchScore > 1 {
		v.Errors = append(v.Errors, fmt.Sprintf("min match score must be within [0, 1], got %.2f", s.MinMatchScore))
	}
	if s.Delay < MinApplicationDelay || s.Delay > MaxApplicationDelay {
		v.Errors = append(v.Errors, fmt.Sprintf("delay must be between %s and %s, got %s", MinApplicationDelay, MaxApplicationDelay, s.Delay))
	}

	if s.MaxPerDay > 20 {
		v.Warnings = append(v.Warnings, "more than 20 applications per day may look like spam to employers")
	}
	if s.MinMatchScore < 0.5 {
		v.Warnings = append(v.Warnings, "a match score threshold below 0.5 lets poorly matching postings through")
	}
	if s.Delay < 15*time.Minute {
		v.Warnings = append(v.Warnings, "a delay under 15 minutes may trigger site rate limits")
	}

	if !s.RequireManualApproval && s.MaxPerDay > 10 {
		v.Recommendations = append(v.Recommendations, "enable manual approval when applying to more than 10 postings per day")
	}

	return v
}
