package filtering

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

// Filter represents a single accept/reject stage applied to one posting.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	// Reject returns a human readable reason and true when the posting must be dropped.
	// Implementations must not modify the posting.
	Reject(in Input) (string, bool)
}

// Input is everything a stage may look at.
type Input struct {
	Posting     *posting.Posting
	Preferences *profile.Preferences
	Applied     AppliedSet
	Now         time.Time
}

// AppliedSet holds URLs of postings the user already applied to.
type AppliedSet map[string]struct{}

func NewAppliedSet(urls ...string) AppliedSet {
	s := make(AppliedSet, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			s[u] = struct{}{}
		}
	}
	return s
}

func (s AppliedSet) Has(url string) bool {
	_, ok := s[strings.TrimSpace(url)]
	return ok
}

// Step describes the result of executing a filtering step over a batch.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// toggle implements the enable/disable part of Filter.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

// Chain runs filters in order and stops at the first rejection.
type Chain struct {
	steps  []Filter
	logger *zap.Logger
	now    func() time.Time
}

// New returns a chain with the standard stages followed by extra ones.
func New(logger *zap.Logger, extra ...Filter) *Chain {
	return NewChain(append(Standard(), extra...), logger)
}

func NewChain(steps []Filter, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{steps: steps, logger: logger, now: time.Now}
}

// WithClock replaces the time source used for staleness checks.
func (c *Chain) WithClock(now func() time.Time) *Chain {
	c.now = now
	return c
}

func (c *Chain) Steps() []Filter {
	return c.steps
}

// Apply reports whether the posting is filtered out and why.
func (c *Chain) Apply(p *posting.Posting, prefs *profile.Preferences, applied AppliedSet) (bool, []string) {
	in := c.input(p, prefs, applied, c.now())
	for _, step := range c.steps {
		if !step.IsEnabled() {
			continue
		}
		if reason, rejected := step.Reject(in); rejected {
			return true, []string{reason}
		}
	}
	return false, nil
}

// Report aggregates a batch run.
type Report struct {
	Steps   []StepReport
	Reasons map[string]int
}

type StepReport struct {
	Name string
	Step
}

// TopReasons returns up to n reasons ordered by frequency, then alphabetically.
func (r Report) TopReasons(n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(r.Reasons))
	for reason, count := range r.Reasons {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Run filters a batch step by step. Accepted postings keep their input order.
func (c *Chain) Run(postings []*posting.Posting, prefs *profile.Preferences, applied AppliedSet) ([]*posting.Posting, []*posting.Match, Report) {
	report := Report{Reasons: make(map[string]int)}
	now := c.now()
	left := postings
	var dropped []*posting.Match

	for _, step := range c.steps {
		if !step.IsEnabled() {
			c.logger.Debug("filter disabled", zap.String("name", step.Name()))
			continue
		}

		initial := len(left)
		next := make([]*posting.Posting, 0, initial)
		for _, p := range left {
			reason, rejected := step.Reject(c.input(p, prefs, applied, now))
			if !rejected {
				next = append(next, p)
				continue
			}
			report.Reasons[reason]++
			dropped = append(dropped, &posting.Match{
				Posting:       p,
				FilteredOut:   true,
				FilterReasons: []string{reason},
			})
		}
		left = next

		info := Step{Initial: initial, Dropped: initial - len(left), Left: len(left)}
		report.Steps = append(report.Steps, StepReport{Name: step.Name(), Step: info})

		c.logger.Debug("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
	}

	return left, dropped, report
}

func (c *Chain) input(p *posting.Posting, prefs *profile.Preferences, applied AppliedSet, now time.Time) Input {
	if prefs == nil {
		prefs = &profile.Preferences{}
	}
	return Input{Posting: p, Preferences: prefs, Applied: applied, Now: now}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
