package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/secrets"
)

// FileStore reads one YAML document per user from a directory:
//
//	profile:
//	  skills: [go, sql]
//	preferences:
//	  titles: [backend engineer]
//	  automation:
//	    max-per-day: 5
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

type document struct {
	Profile     *Candidate   `mapstructure:"profile"`
	Preferences *Preferences `mapstructure:"preferences"`
}

func (s *FileStore) Candidate(_ context.Context, userID string) (*Candidate, error) {
	doc, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	if doc.Profile == nil {
		return nil, fmt.Errorf("user %s: profile section: %w", userID, ErrNotFound)
	}
	doc.Profile.UserID = userID
	return doc.Profile, nil
}

func (s *FileStore) Preferences(_ context.Context, userID string) (*Preferences, error) {
	doc, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	if doc.Preferences == nil {
		return nil, fmt.Errorf("user %s: preferences section: %w", userID, ErrNotFound)
	}
	prefs := doc.Preferences
	prefs.UserID = userID
	prefs.Normalize()

	if c := prefs.Credentials; c != nil && c.PasswordFile != "" {
		password, err := secrets.Load(secrets.Source{Name: "board password", File: c.PasswordFile})
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", userID, err)
		}
		c.Password = password
	}

	return prefs, nil
}

func (s *FileStore) read(userID string) (*document, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	path := filepath.Join(s.dir, userID+".yaml")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &doc, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultAutomationSettings()
	v.SetDefault("preferences.automation.enabled", d.Enabled)
	v.SetDefault("preferences.automation.max-per-day", d.MaxPerDay)
	v.SetDefault("preferences.automation.max-per-week", d.MaxPerWeek)
	v.SetDefault("preferences.automation.min-match-score", d.MinMatchScore)
	v.SetDefault("preferences.automation.require-manual-approval", d.RequireManualApproval)
	v.SetDefault("preferences.automation.delay", d.Delay.String())
}

// MemoryStore keeps profiles in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	candidates  map[string]*Candidate
	preferences map[string]*Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candidates:  make(map[string]*Candidate),
		preferences: make(map[string]*Preferences),
	}
}

func (s *MemoryStore) Put(c *Candidate, p *Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		s.candidates[c.UserID] = c
	}
	if p != nil {
		s.preferences[p.UserID] = p
	}
}

func (s *MemoryStore) Candidate(_ context.Context, userID string) (*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Preferences(_ context.Context, userID string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}
