package profile

import (
	"errors"
	"strings"

	"github.com/spigell/autoapply/internal/posting"
)

var ErrNotFound = errors.New("profile not found")

// Candidate describes the applicant. It is read-only for every component.
type Candidate struct {
	UserID          string   `mapstructure:"user-id"`
	Name            string   `mapstructure:"name"`
	Email           string   `mapstructure:"email"`
	Summary         string   `mapstructure:"summary"`
	Skills          []string `mapstructure:"skills"`
	ExperienceYears float64  `mapstructure:"experience-years"`
	Education       string   `mapstructure:"education"`
	Titles          []string `mapstructure:"titles"`
	Industries      []string `mapstructure:"industries"`
	Resume          string   `mapstructure:"resume"`
}

type SalaryRange struct {
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	Currency string  `mapstructure:"currency"`
}

// Preferences are the user's search and automation choices.
type Preferences struct {
	UserID              string                   `mapstructure:"user-id"`
	Titles              []string                 `mapstructure:"titles"`
	Locations           []string                 `mapstructure:"locations"`
	Remote              bool                     `mapstructure:"remote"`
	Salary              *SalaryRange             `mapstructure:"salary"`
	EmploymentTypes     []posting.EmploymentType `mapstructure:"employment-types"`
	PreferredEmployers  []string                 `mapstructure:"preferred-employers"`
	ExcludedEmployers   []string                 `mapstructure:"excluded-employers"`
	PreferredIndustries []string                 `mapstructure:"preferred-industries"`
	ExcludedIndustries  []string                 `mapstructure:"excluded-industries"`
	RequiredKeywords    []string                 `mapstructure:"required-keywords"`
	ExcludedKeywords    []string                 `mapstructure:"excluded-keywords"`
	Automation          AutomationSettings       `mapstructure:"automation"`
	Credentials         *Credentials             `mapstructure:"credentials"`
}

// Credentials are forwarded to the submitter untouched.
type Credentials struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
}

// SalaryBounds returns the preferred range or zeros when unset.
func (p *Preferences) SalaryBounds() (float64, float64) {
	if p == nil || p.Salary == nil {
		return 0, 0
	}
	return p.Salary.Min, p.Salary.Max
}

// PrefersEmployer reports whether the employer name matches any preferred employer.
func (p *Preferences) PrefersEmployer(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, e := range p.PreferredEmployers {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" && strings.Contains(name, e) {
			return true
		}
	}
	return false
}

// Normalize trims list entries and drops empty ones.
func (p *Preferences) Normalize() {
	p.Titles = compact(p.Titles)
	p.Locations = compact(p.Locations)
	p.PreferredEmployers = compact(p.PreferredEmployers)
	p.ExcludedEmployers = compact(p.ExcludedEmployers)
	p.PreferredIndustries = compact(p.PreferredIndustries)
	p.ExcludedIndustries = compact(p.ExcludedIndustries)
	p.RequiredKeywords = compact(p.RequiredKeywords)
	p.ExcludedKeywords = compact(p.ExcludedKeywords)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
