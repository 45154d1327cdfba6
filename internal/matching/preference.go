package matching

import (
	"math"
	"strings"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

// TitleScore compares a posting title with the wanted titles. The best of exact,
// substring and word-overlap matches wins.
func TitleScore(title string, wanted []string) float64 {
	if len(wanted) == 0 {
		return neutral
	}
	t := lower(title)
	if t == "" {
		return neutral
	}

	titleWords := keywords(t)
	best := 0.0
	for _, w := range wanted {
		w = lower(w)
		if w == "" {
			continue
		}
		if w == t {
			return 1
		}
		if strings.Contains(t, w) || strings.Contains(w, t) {
			best = math.Max(best, 0.8)
		}
		best = math.Max(best, jaccard(titleWords, keywords(w))*0.7)
	}
	return best
}

// LocationScore compares the posting location with the preferred locations.
func LocationScore(loc posting.Location, prefs *profile.Preferences) float64 {
	if prefs.Remote && loc.Remote {
		return 1
	}
	if len(prefs.Locations) == 0 {
		return neutral
	}
	l := lower(loc.String())
	if l == "" {
		return 0.3
	}

	best := 0.1
	for _, want := range prefs.Locations {
		want = lower(want)
		if want == "" {
			continue
		}
		if want == l {
			return 1
		}
		if strings.Contains(l, want) || strings.Contains(want, l) {
			best = math.Max(best, 0.8)
			continue
		}
		if sharesPart(l, want) {
			best = math.Max(best, 0.6)
		}
	}
	return best
}

// sharesPart reports whether two "city, state, country" strings share a component.
func sharesPart(a, b string) bool {
	parts := make(map[string]struct{})
	for _, p := range strings.Split(a, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts[p] = struct{}{}
		}
	}
	for _, p := range strings.Split(b, ",") {
		if _, ok := parts[strings.TrimSpace(p)]; ok {
			return true
		}
	}
	return false
}

// SalaryScore compares annualized posting compensation with the wanted range,
// allowing a 20% band on both sides.
func SalaryScore(c *posting.Compensation, want *profile.SalaryRange) float64 {
	if !c.HasAmounts() || want == nil || (want.Min <= 0 && want.Max <= 0) {
		return neutral
	}

	jobMin, jobMax := c.Annual()
	if jobMax <= 0 {
		jobMax = jobMin
	}
	if jobMin <= 0 {
		jobMin = jobMax
	}

	if want.Min > 0 && jobMax < want.Min*0.8 {
		return 0.1
	}
	if want.Max > 0 && jobMin > want.Max*1.2 {
		return 0.7
	}

	upper := want.Max
	if upper <= 0 {
		upper = math.Inf(1)
	}
	if jobMin <= upper && jobMax >= want.Min {
		return 0.9
	}
	return 0.8
}

func employerScore(name string, prefs *profile.Preferences) float64 {
	if strings.TrimSpace(name) == "" {
		return neutral
	}
	if prefs.PrefersEmployer(name) {
		return 1
	}
	if len(prefs.PreferredEmployers) > 0 {
		return 0.3
	}
	return neutral
}

func employmentTypeScore(have, want []posting.EmploymentType) float64 {
	if len(have) == 0 || len(want) == 0 {
		return neutral
	}
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(string(h), string(w)) {
				return 1
			}
		}
	}
	return 0.2
}
