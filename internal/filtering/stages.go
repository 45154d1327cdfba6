package filtering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spigell/autoapply/internal/posting"
)

const (
	maxPostingAgeDays  = 90
	minDescriptionSize = 50
)

var spamPhrases = []string{
	"work from home", "make money fast", "no experience required", "earn $",
	"guaranteed income", "pyramid", "mlm",
}

// Standard returns the built-in stages in evaluation order.
func Standard() []Filter {
	return []Filter{
		NewAlreadyApplied(),
		NewExclusion(),
		NewQuality(),
		NewSalary(),
		NewLocation(),
		NewEmploymentType(),
		NewRequiredKeywords(),
	}
}

type alreadyAppliedFilter struct{ toggle }

// NewAlreadyApplied drops postings whose URL is in the applied set.
func NewAlreadyApplied() Filter { return &alreadyAppliedFilter{} }

func (f *alreadyAppliedFilter) Name() string { return "already_applied" }

func (f *alreadyAppliedFilter) Reject(in Input) (string, bool) {
	if in.Applied.Has(in.Posting.Key()) {
		return "Already applied to this job", true
	}
	return "", false
}

type exclusionFilter struct{ toggle }

// NewExclusion drops postings from excluded employers or industries and postings
// mentioning excluded keywords.
func NewExclusion() Filter { return &exclusionFilter{} }

func (f *exclusionFilter) Name() string { return "exclusion" }

func (f *exclusionFilter) Reject(in Input) (string, bool) {
	p, prefs := in.Posting, in.Preferences

	employer := lower(p.Employer.Name)
	for _, e := range prefs.ExcludedEmployers {
		if e = lower(e); e != "" && employer != "" && strings.Contains(employer, e) {
			return fmt.Sprintf("Employer '%s' is excluded", p.Employer.Name), true
		}
	}

	industry := lower(p.Employer.Industry)
	for _, i := range prefs.ExcludedIndustries {
		if i = lower(i); i != "" && industry != "" && strings.Contains(industry, i) {
			return fmt.Sprintf("Industry '%s' is excluded", p.Employer.Industry), true
		}
	}

	description := lower(p.Description)
	title := lower(p.Title)
	for _, k := range prefs.ExcludedKeywords {
		k = lower(k)
		if k == "" {
			continue
		}
		if strings.Contains(description, k) {
			return fmt.Sprintf("Contains excluded keyword '%s'", k), true
		}
		if strings.Contains(title, k) {
			return fmt.Sprintf("Title contains excluded keyword '%s'", k), true
		}
	}
	return "", false
}

type qualityFilter struct{ toggle }

// NewQuality drops incomplete, stale and suspicious postings.
func NewQuality() Filter { return &qualityFilter{} }

func (f *qualityFilter) Name() string { return "quality" }

func (f *qualityFilter) Reject(in Input) (string, bool) {
	p := in.Posting
	if strings.TrimSpace(p.Title) == "" {
		return "Missing job title", true
	}
	if strings.TrimSpace(p.Employer.Name) == "" {
		return "Missing employer name", true
	}
	if days, ok := p.AgeDays(in.Now); ok && days > maxPostingAgeDays {
		return fmt.Sprintf("Posting is too old (%d days)", days), true
	}
	if suspicious(p) {
		return "Posting looks like spam or low quality", true
	}
	return "", false
}

func (f *qualityFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"max_age_days": strconv.Itoa(maxPostingAgeDays)},
	}
}

func suspicious(p *posting.Posting) bool {
	title := lower(p.Title)
	for _, phrase := range spamPhrases {
		if strings.Contains(title, phrase) {
			return true
		}
	}

	if p.Compensation.HasAmounts() {
		lo, hi := p.Compensation.Annual()
		if lo > 500_000 || hi > 1_000_000 {
			return true
		}
		if lo > 0 && hi > 0 && hi/lo > 5 {
			return true
		}
	}

	if d := strings.TrimSpace(p.Description); d != "" && len([]rune(d)) < minDescriptionSize {
		return true
	}
	return false
}

type salaryFilter struct{ toggle }

// NewSalary drops postings paying clearly outside the preferred range.
func NewSalary() Filter { return &salaryFilter{} }

func (f *salaryFilter) Name() string { return "salary" }

func (f *salaryFilter) Reject(in Input) (string, bool) {
	userMin, userMax := in.Preferences.SalaryBounds()
	if userMin <= 0 && userMax <= 0 {
		return "", false
	}

	c := in.Posting.Compensation
	if c == nil {
		if userMin > 0 {
			return "No salary information provided", true
		}
		return "", false
	}
	if !c.HasAmounts() {
		return "No salary range specified", true
	}

	lo, hi := c.Annual()
	if userMin > 0 {
		top := hi
		if top <= 0 {
			top = lo
		}
		if top < userMin*0.8 {
			return fmt.Sprintf("Salary too low (%.0f < %.0f)", top, userMin), true
		}
	}
	if userMax > 0 && lo > userMax*1.5 {
		return fmt.Sprintf("Salary too high (%.0f > %.0f)", lo, userMax), true
	}
	return "", false
}

type locationFilter struct{ toggle }

// NewLocation drops on-site postings outside the preferred locations.
func NewLocation() Filter { return &locationFilter{} }

func (f *locationFilter) Name() string { return "location" }

func (f *locationFilter) Reject(in Input) (string, bool) {
	p, prefs := in.Posting, in.Preferences
	if p.Remote() || len(prefs.Locations) == 0 {
		return "", false
	}

	loc := lower(p.Location.String())
	if loc == "" {
		return "No location information provided", true
	}

	parts := strings.Split(loc, ",")
	for _, want := range prefs.Locations {
		want = lower(want)
		if want == "" {
			continue
		}
		if strings.Contains(loc, want) || strings.Contains(want, loc) {
			return "", false
		}
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" && strings.Contains(want, part) {
				return "", false
			}
		}
	}
	return fmt.Sprintf("Location '%s' not in preferred locations", p.Location.String()), true
}

type employmentTypeFilter struct{ toggle }

// NewEmploymentType drops postings whose employment types do not intersect the preferred ones.
func NewEmploymentType() Filter { return &employmentTypeFilter{} }

func (f *employmentTypeFilter) Name() string { return "employment_type" }

func (f *employmentTypeFilter) Reject(in Input) (string, bool) {
	have, want := in.Posting.EmploymentTypes, in.Preferences.EmploymentTypes
	if len(have) == 0 || len(want) == 0 {
		return "", false
	}
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(string(h), string(w)) {
				return "", false
			}
		}
	}
	return fmt.Sprintf("Employment type %v not in preferences %v", have, want), true
}

type requiredKeywordsFilter struct{ toggle }

// NewRequiredKeywords drops postings that do not mention every required keyword.
func NewRequiredKeywords() Filter { return &requiredKeywordsFilter{} }

func (f *requiredKeywordsFilter) Name() string { return "required_keywords" }

func (f *requiredKeywordsFilter) Reject(in Input) (string, bool) {
	return missingKeywords(in.Posting, in.Preferences.RequiredKeywords)
}

func missingKeywords(p *posting.Posting, required []string) (string, bool) {
	if len(required) == 0 {
		return "", false
	}
	if strings.TrimSpace(p.Description) == "" {
		return "No job description to check required keywords", true
	}

	text := lower(p.Title + " " + p.Description)
	var missing []string
	for _, k := range required {
		if k = lower(k); k != "" && !strings.Contains(text, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "Missing required keywords: " + strings.Join(missing, ", "), true
	}
	return "", false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
