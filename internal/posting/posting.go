package posting

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Site string

const (
	SiteLinkedIn     Site = "linkedin"
	SiteIndeed       Site = "indeed"
	SiteZipRecruiter Site = "zip_recruiter"
	SiteGlassdoor    Site = "glassdoor"
	SiteGoogle       Site = "google"
	SiteBayt         Site = "bayt"
	SiteNaukri       Site = "naukri"
	SiteOther        Site = "other"
)

type EmploymentType string

const (
	FullTime   EmploymentType = "fulltime"
	PartTime   EmploymentType = "parttime"
	Contract   EmploymentType = "contract"
	Temporary  EmploymentType = "temporary"
	Internship EmploymentType = "internship"
	OtherType  EmploymentType = "other"
)

type Interval string

const (
	Yearly  Interval = "yearly"
	Monthly Interval = "monthly"
	Weekly  Interval = "weekly"
	Daily   Interval = "daily"
	Hourly  Interval = "hourly"
)

// AnnualMultiplier converts an amount paid per interval into a yearly amount.
// Unknown intervals are treated as yearly.
func (i Interval) AnnualMultiplier() float64 {
	switch i {
	case Hourly:
		return 2080
	case Daily:
		return 260
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 1
	}
}

type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Display string `json:"display,omitempty"`
	Remote  bool   `json:"remote,omitempty"`
}

// String returns the human readable location or an empty string when nothing is known.
func (l Location) String() string {
	if d := strings.TrimSpace(l.Display); d != "" {
		return d
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Compensation struct {
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Interval Interval `json:"interval,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Annual returns the range converted to yearly amounts. Zero means unknown.
func (c *Compensation) Annual() (float64, float64) {
	if c == nil {
		return 0, 0
	}
	m := c.Interval.AnnualMultiplier()
	return c.Min * m, c.Max * m
}

// HasAmounts reports whether at least one bound of the range is known.
func (c *Compensation) HasAmounts() bool {
	return c != nil && (c.Min > 0 || c.Max > 0)
}

type Employer struct {
	Name         string  `json:"name,omitempty"`
	Industry     string  `json:"industry,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	ReviewsCount int     `json:"reviews_count,omitempty" mapstructure:"reviews_count"`
	Size         string  `json:"size,omitempty"`
}

// Employees parses the size string ("1000-5000", "10,000+", "250") and returns
// the upper figure mentioned in it.
func (e Employer) Employees() (int, bool) {
	size := strings.TrimSpace(strings.ReplaceAll(e.Size, ",", ""))
	if size == "" {
		return 0, false
	}
	size = strings.TrimSuffix(size, "+")
	if idx := strings.Index(size, "-"); idx != -1 {
		size = size[idx+1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(size))
	if err != nil {
		return 0, false
	}
	return n, true
}

type Posting struct {
	ID              string           `json:"id,omitempty"`
	Site            Site             `json:"site,omitempty"`
	URL             string           `json:"url,omitempty"`
	DirectURL       string           `json:"direct_url,omitempty" mapstructure:"direct_url"`
	Title           string           `json:"title,omitempty"`
	Employer        Employer         `json:"employer,omitempty"`
	Location        Location         `json:"location,omitempty"`
	Compensation    *Compensation    `json:"compensation,omitempty"`
	EmploymentTypes []EmploymentType `json:"employment_types,omitempty" mapstructure:"employment_types"`
	Description     string           `json:"description,omitempty"`
	Skills          []string         `json:"skills,omitempty"`
	PostedAt        time.Time        `json:"posted_at,omitempty" mapstructure:"posted_at"`
}

// Key identifies the posting across sources.
func (p *Posting) Key() string {
	return strings.TrimSpace(p.URL)
}

func (p *Posting) Remote() bool {
	return p.Location.Remote
}

// AgeDays returns the number of whole days since publication.
func (p *Posting) AgeDays(now time.Time) (int, bool) {
	if p.PostedAt.IsZero() {
		return 0, false
	}
	d := now.Sub(p.PostedAt)
	if d < 0 {
		return 0, true
	}
	return int(math.Floor(d.Hours() / 24)), true
}

var errMissingURL = errors.New("posting has no url")

// Validate rejects postings that cannot be identified.
func (p *Posting) Validate() error {
	if p == nil {
		return errors.New("posting is nil")
	}
	if p.Key() == "" {
		if p.ID != "" {
			return fmt.Errorf("posting %s: %w", p.ID, errMissingURL)
		}
		return errMissingURL
	}
	return nil
}

// Match is the outcome of filtering and scoring one posting.
type Match struct {
	Posting       *Posting `json:"posting"`
	Score         float64  `json:"score"`
	Reasons       []string `json:"reasons,omitempty"`
	FilteredOut   bool     `json:"filtered_out"`
	FilterReasons []string `json:"filter_reasons,omitempty"`
}
