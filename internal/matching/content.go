package matching

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/spigell/autoapply/internal/posting"
)

// knownSkills are picked up from free-text descriptions in addition to skill tags.
// Go is only recognized as "golang" or a tag, the bare word is common prose.
var knownSkills = []string{
	"python", "java", "javascript", "typescript", "golang", "react", "node.js",
	"sql", "aws", "gcp", "azure", "docker", "kubernetes", "git", "agile", "scrum",
	"machine learning", "data analysis", "project management", "leadership", "communication",
}

var experiencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s*-\s*\d+\s*years?\s*(?:of\s*)?experience`),
	regexp.MustCompile(`(\d+)\+?\s*years?\s*(?:of\s*)?experience`),
	regexp.MustCompile(`minimum\s*(?:of\s*)?(\d+)\s*years?`),
	regexp.MustCompile(`at\s*least\s*(\d+)\s*years?`),
}

// PostingSkills returns the lowercased skills named by the posting tags or found in its description.
func PostingSkills(p *posting.Posting) []string {
	set := make(map[string]struct{})
	for _, s := range p.Skills {
		if s = lower(s); s != "" {
			set[s] = struct{}{}
		}
	}

	desc := lower(p.Description)
	if desc != "" {
		words := keywords(desc)
		for _, skill := range knownSkills {
			if strings.Contains(skill, " ") {
				if strings.Contains(desc, skill) {
					set[skill] = struct{}{}
				}
				continue
			}
			if _, ok := words[skill]; ok {
				set[skill] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SkillOverlap is the share of posting skills the candidate has.
func SkillOverlap(candidate, required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(candidate))
	for _, s := range candidate {
		have[lower(s)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(required))
	matched := 0
	for _, s := range required {
		s = lower(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := have[s]; ok {
			matched++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(matched) / float64(len(seen))
}

func skillsScore(candidate, required []string) float64 {
	if len(candidate) == 0 {
		return 0.3
	}
	if len(required) == 0 {
		return neutral
	}
	ratio := SkillOverlap(candidate, required)
	if ratio == 0 {
		return 0.2
	}
	return math.Min(ratio*1.2, 1)
}

// RequiredYears extracts the experience requirement from free text.
func RequiredYears(description string) (int, bool) {
	text := lower(description)
	for _, re := range experiencePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// ExperienceScore rewards meeting the requirement with a diminishing bonus and
// penalizes each missing year.
func ExperienceScore(years float64, description string) float64 {
	if years <= 0 {
		return neutral
	}
	required, ok := RequiredYears(description)
	if !ok {
		return neutral
	}

	diff := years - float64(required)
	if diff >= 0 {
		return math.Min(0.8+math.Min(diff*0.1, 0.3), 1)
	}
	return math.Max(0.6-0.15*(-diff), 0.1)
}

func industryScore(candidate []string, industry string) float64 {
	industry = lower(industry)
	if len(candidate) == 0 || industry == "" {
		return neutral
	}
	best := 0.3
	for _, c := range candidate {
		c = lower(c)
		if c == "" {
			continue
		}
		if c == industry {
			return 1
		}
		if strings.Contains(industry, c) || strings.Contains(c, industry) {
			best = 0.7
		}
	}
	return best
}

// keywords tokenizes text keeping tech suffixes such as "c++", "c#" and "node.js".
func keywords(text string) map[string]struct{} {
	kw := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		w := strings.TrimRight(word.String(), ".")
		word.Reset()
		if w != "" {
			kw[w] = struct{}{}
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return kw
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
