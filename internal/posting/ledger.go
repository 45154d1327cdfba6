package posting

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// Ledger is a JSON file backed list of postings already applied to.
type Ledger struct {
	Items []*LedgerEntry
}

type LedgerEntry struct {
	UserID    string
	ID        string
	URL       string
	Employer  string
	AppliedAt time.Time
}

// LoadLedger reads the ledger from path. A missing or empty file yields an empty ledger.
func LoadLedger(path string) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Ledger{}, nil
		}
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &Ledger{}, nil
	}

	var ledger Ledger
	if err := json.NewDecoder(file).Decode(&ledger); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Record appends entries for the given postings.
func (l *Ledger) Record(userID string, at time.Time, postings ...*Posting) {
	for _, p := range postings {
		l.Items = append(l.Items, &LedgerEntry{
			UserID:    userID,
			ID:        p.ID,
			URL:       p.Key(),
			Employer:  p.Employer.Name,
			AppliedAt: at.UTC(),
		})
	}
}

// URLs returns the URLs recorded for the user. An empty userID returns all of them.
func (l *Ledger) URLs(userID string) []string {
	urls := make([]string, 0, len(l.Items))
	for _, e := range l.Items {
		if userID != "" && e.UserID != "" && e.UserID != userID {
			continue
		}
		urls = append(urls, e.URL)
	}
	return urls
}

func (l *Ledger) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}
