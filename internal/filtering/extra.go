package filtering

import (
	"fmt"
	"strings"
)

// Criteria are ad-hoc constraints supplied by the caller on top of the user preferences.
type Criteria struct {
	MinSalary        float64  `mapstructure:"min-salary"`
	MaxSalary        float64  `mapstructure:"max-salary"`
	RequiredKeywords []string `mapstructure:"required-keywords"`
	ExcludedKeywords []string `mapstructure:"excluded-keywords"`
}

func (c Criteria) empty() bool {
	return c.MinSalary <= 0 && c.MaxSalary <= 0 && len(c.RequiredKeywords) == 0 && len(c.ExcludedKeywords) == 0
}

type criteriaFilter struct {
	toggle
	criteria Criteria
}

// NewCriteria builds a stage enforcing caller supplied criteria.
func NewCriteria(c Criteria) Filter {
	return &criteriaFilter{criteria: c}
}

func (f *criteriaFilter) Name() string { return "criteria" }

func (f *criteriaFilter) Reject(in Input) (string, bool) {
	c := f.criteria
	if c.empty() {
		return "", false
	}
	p := in.Posting

	if c.MinSalary > 0 || c.MaxSalary > 0 {
		lo, hi := p.Compensation.Annual()
		if c.MinSalary > 0 && hi > 0 && hi < c.MinSalary {
			return fmt.Sprintf("Salary below %.0f", c.MinSalary), true
		}
		if c.MaxSalary > 0 && lo > c.MaxSalary {
			return fmt.Sprintf("Salary above %.0f", c.MaxSalary), true
		}
	}

	text := lower(p.Title + " " + p.Description)
	for _, k := range c.ExcludedKeywords {
		if k = lower(k); k != "" && strings.Contains(text, k) {
			return fmt.Sprintf("Contains excluded keyword '%s'", k), true
		}
	}

	return missingKeywords(p, c.RequiredKeywords)
}

func (f *criteriaFilter) Status() Status {
	details := map[string]string{}
	if f.criteria.MinSalary > 0 {
		details["min_salary"] = fmt.Sprintf("%.0f", f.criteria.MinSalary)
	}
	if f.criteria.MaxSalary > 0 {
		details["max_salary"] = fmt.Sprintf("%.0f", f.criteria.MaxSalary)
	}
	if len(f.criteria.RequiredKeywords) > 0 {
		details["required_keywords"] = strings.Join(f.criteria.RequiredKeywords, ",")
	}
	if len(f.criteria.ExcludedKeywords) > 0 {
		details["excluded_keywords"] = strings.Join(f.criteria.ExcludedKeywords, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type funcFilter struct {
	toggle
	name string
	fn   func(Input) (string, bool)
}

// NewFunc adapts a predicate into a named stage.
func NewFunc(name string, fn func(Input) (string, bool)) Filter {
	return &funcFilter{name: name, fn: fn}
}

func (f *funcFilter) Name() string { return f.name }

func (f *funcFilter) Reject(in Input) (string, bool) {
	return f.fn(in)
}

func (f *funcFilter) Status() Status {
	return Status{Name: f.name, Enabled: f.IsEnabled(), Reason: f.reason}
}
