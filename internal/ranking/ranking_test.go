package ranking

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func match(id string, score float64, mutate func(*posting.Posting)) *posting.Match {
	p := &posting.Posting{ID: id, URL: "https://board.example/" + id, Title: "Engineer", PostedAt: now.Add(-24 * time.Hour)}
	if mutate != nil {
		mutate(p)
	}
	return &posting.Match{Posting: p, Score: score}
}

func ids(ranked []*Ranked) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Posting.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies() {
		got, err := ParseStrategy(string(s))
		if err != nil || got != s {
			t.Fatalf("round trip failed for %s: %v", s, err)
		}
	}
	if got, _ := ParseStrategy(""); got != Combined {
		t.Fatalf("expected combined by default, got %s", got)
	}
	if _, err := ParseStrategy("random"); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestRankSalaryStrategy(t *testing.T) {
	prefs := &profile.Preferences{Salary: &profile.SalaryRange{Min: 100000, Max: 140000}}

	below := match("below", 0.9, func(p *posting.Posting) {
		p.Compensation = &posting.Compensation{Min: 60000, Max: 70000}
	})
	inRange := match("in-range", 0.6, func(p *posting.Posting) {
		p.Compensation = &posting.Compensation{Min: 110000, Max: 130000}
	})

	ranked, err := New().WithClock(func() time.Time { return now }).Rank([]*posting.Match{below, inRange}, prefs, BySalary)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(ranked); !equal(got, []string{"in-range", "below"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRankSkipsFilteredAndIsStable(t *testing.T) {
	matches := []*posting.Match{
		match("a", 0.7, nil),
		match("b", 0.9, nil),
		match("c", 0.7, nil),
		{Posting: &posting.Posting{ID: "filtered"}, Score: 1, FilteredOut: true},
		match("d", 0.7, nil),
		nil,
	}
	r := New().WithClock(func() time.Time { return now })

	first, err := r.Rank(matches, nil, ByMatchScore)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "a", "c", "d"}
	if got := ids(first); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	for i := 0; i < 20; i++ {
		again, _ := r.Rank(matches, nil, Combined)
		base, _ := r.Rank(matches, nil, Combined)
		if !equal(ids(again), ids(base)) {
			t.Fatalf("combined ranking is not deterministic")
		}
		for _, item := range again {
			if item.FilteredOut {
				t.Fatalf("filtered match leaked into ranking")
			}
		}
	}
}

func TestRankUnknownStrategy(t *testing.T) {
	if _, err := New().Rank(nil, nil, Strategy("nope")); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestFreshnessBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		age    time.Duration
		expect float64
	}{
		{age: 12 * time.Hour, expect: 1},
		{age: 3 * 24 * time.Hour, expect: 0.9},
		{age: 6 * 24 * time.Hour, expect: 0.7},
		{age: 10 * 24 * time.Hour, expect: 0.5},
		{age: 20 * 24 * time.Hour, expect: 0.3},
		{age: 45 * 24 * time.Hour, expect: 0.1},
	}
	for _, tt := range tests {
		p := &posting.Posting{PostedAt: now.Add(-tt.age)}
		if got := Freshness(p, now); got != tt.expect {
			t.Fatalf("age %s: expected %v, got %v", tt.age, tt.expect, got)
		}
	}
	if got := Freshness(&posting.Posting{}, now); got != 0.3 {
		t.Fatalf("expected 0.3 for unknown date, got %v", got)
	}
}

func TestEmployerQualityAndEase(t *testing.T) {
	q := EmployerQuality(posting.Employer{Rating: 4, Size: "10,000+", ReviewsCount: 500})
	if q != 1 {
		t.Fatalf("expected capped quality 1, got %v", q)
	}
	if q := EmployerQuality(posting.Employer{Rating: 2.5, Size: "100-500"}); math.Abs(q-0.8) > 1e-9 {
		t.Fatalf("expected 0.8, got %v", q)
	}
	if e := ApplicationEase(&posting.Posting{Site: posting.SiteIndeed, DirectURL: "https://acme.example/apply"}); math.Abs(e-0.95) > 1e-9 {
		t.Fatalf("expected 0.95, got %v", e)
	}
}

func TestCombinedPrefersFreshPostings(t *testing.T) {
	fresh := match("fresh", 0.7, nil)
	old := match("old", 0.7, func(p *posting.Posting) { p.PostedAt = now.Add(-60 * 24 * time.Hour) })

	ranked, err := New().WithClock(func() time.Time { return now }).Rank([]*posting.Match{old, fresh}, nil, Combined)
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Posting.ID != "fresh" {
		t.Fatalf("expected fresh posting first, got %v", ids(ranked))
	}
}

func TestSummarize(t *testing.T) {
	matches := []*posting.Match{
		match("a", 0.9, func(p *posting.Posting) { p.Employer.Name = "Acme"; p.Location.City = "Berlin" }),
		match("b", 0.65, func(p *posting.Posting) { p.Employer.Name = "Acme"; p.Location.Remote = true }),
		match("c", 0.3, func(p *posting.Posting) { p.Employer.Name = "Initech" }),
		{Posting: &posting.Posting{}, Score: 1, FilteredOut: true},
	}

	s := Summarize(matches, 1)
	if s.Total != 3 || s.Max != 0.9 || s.Min != 0.3 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.Distribution != (Distribution{Excellent: 1, Good: 1, Poor: 1}) {
		t.Fatalf("unexpected distribution %+v", s.Distribution)
	}
	if len(s.TopEmployers) != 1 || s.TopEmployers[0] != (Count{Name: "Acme", Count: 2}) {
		t.Fatalf("unexpected top employers %+v", s.TopEmployers)
	}
}
