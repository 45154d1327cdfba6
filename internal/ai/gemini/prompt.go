package gemini

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "embed"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

//go:embed cover_letter.md
var coverLetterTemplate string

//go:embed resume.md
var resumeTemplate string

//go:embed similarity.md
var similarityTemplate string

const (
	defaultTone = "Friendly"
	// Descriptions are cut to keep prompts within a sane size.
	maxDescriptionRunes = 4000
)

// fill replaces {{KEY}} placeholders in template.
func fill(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func postingJSON(p *posting.Posting) (string, error) {
	payload := map[string]any{
		"title":            p.Title,
		"employer":         p.Employer.Name,
		"industry":         p.Employer.Industry,
		"location":         p.Location.String(),
		"remote":           p.Location.Remote,
		"employment_types": p.EmploymentTypes,
		"skills":           p.Skills,
		"description":      truncateRunes(p.Description, maxDescriptionRunes),
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal posting payload: %w", err)
	}
	return string(out), nil
}

func candidateJSON(c *profile.Candidate) (string, error) {
	payload := map[string]any{
		"name":             c.Name,
		"summary":          c.Summary,
		"skills":           c.Skills,
		"experience_years": c.ExperienceYears,
		"education":        c.Education,
		"titles":           c.Titles,
		"industries":       c.Industries,
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidate payload: %w", err)
	}
	return string(out), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}

// extractJSON strips markdown code fences around a JSON answer.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// plainText removes code fences and surrounding quotes that models like to add.
func plainText(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = extractJSON(raw)
	}
	return strings.Trim(raw, "\"")
}
