package posting

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type Postings struct {
	Items []*Posting
}

func (p *Postings) Len() int {
	return len(p.Items)
}

func (p *Postings) FindByID(id string) *Posting {
	for _, item := range p.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (p *Postings) FindByURL(url string) *Posting {
	url = strings.TrimSpace(url)
	for _, item := range p.Items {
		if item.Key() == url {
			return item
		}
	}
	return nil
}

// Exclude removes postings whose URL is in targets and returns the removed IDs.
// Order of the remaining postings is preserved.
func (p *Postings) Exclude(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[strings.TrimSpace(u)] = struct{}{}
	}

	var excluded []string
	kept := p.Items[:0]
	for _, item := range p.Items {
		if _, ok := set[item.Key()]; ok {
			excluded = append(excluded, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	p.Items = kept
	return excluded
}

// ReportByEmployer groups postings by employer name for operator review.
func (p *Postings) ReportByEmployer() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, item := range p.Items {
		key := item.Employer.Name
		if key == "" {
			key = "unknown"
		}
		entry := map[string]string{
			"title":    item.Title,
			"url":      item.URL,
			"location": item.Location.String(),
		}
		if item.Compensation.HasAmounts() {
			c := item.Compensation
			entry["salary"] = fmt.Sprintf("%.0f-%.0f %s/%s", c.Min, c.Max, c.Currency, c.Interval)
		}
		report[key] = append(report[key], entry)
	}
	return report
}

func (p *Postings) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "postings_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}
