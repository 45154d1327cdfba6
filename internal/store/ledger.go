package store

import (
	"context"
	"sync"
	"time"

	"github.com/spigell/autoapply/internal/posting"
)

// FileLedger records applications in a JSON ledger file.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (f *FileLedger) RecordApplied(_ context.Context, userID string, p *posting.Posting, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ledger, err := posting.LoadLedger(f.path)
	if err != nil {
		return err
	}
	ledger.Record(userID, at, p)
	return ledger.ToFile(f.path)
}

func (f *FileLedger) AppliedURLs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ledger, err := posting.LoadLedger(f.path)
	if err != nil {
		return nil, err
	}
	return ledger.URLs(userID), nil
}
