package ranking

import (
	"sort"

	"github.com/spigell/autoapply/internal/posting"
)

type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

func (d *Distribution) Add(score float64) {
	switch {
	case score >= 0.8:
		d.Excellent++
	case score >= 0.6:
		d.Good++
	case score >= 0.4:
		d.Fair++
	default:
		d.Poor++
	}
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Summary struct {
	Total        int          `json:"total"`
	Average      float64      `json:"average"`
	Max          float64      `json:"max"`
	Min          float64      `json:"min"`
	Distribution Distribution `json:"distribution"`
	TopEmployers []Count      `json:"top_employers,omitempty"`
	TopLocations []Count      `json:"top_locations,omitempty"`
}

// Summarize computes score statistics over non filtered matches.
func Summarize(matches []*posting.Match, top int) Summary {
	var s Summary
	employers := make(map[string]int)
	locations := make(map[string]int)

	sum := 0.0
	for _, m := range matches {
		if m == nil || m.FilteredOut || m.Posting == nil {
			continue
		}
		if s.Total == 0 || m.Score > s.Max {
			s.Max = m.Score
		}
		if s.Total == 0 || m.Score < s.Min {
			s.Min = m.Score
		}
		s.Total++
		sum += m.Score
		s.Distribution.Add(m.Score)

		if name := m.Posting.Employer.Name; name != "" {
			employers[name]++
		}
		if loc := m.Posting.Location.String(); loc != "" {
			locations[loc]++
		} else if m.Posting.Remote() {
			locations["remote"]++
		}
	}
	if s.Total > 0 {
		s.Average = sum / float64(s.Total)
	}
	s.TopEmployers = topCounts(employers, top)
	s.TopLocations = topCounts(locations, top)
	return s
}

func topCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
