package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	v := DefaultAutomationSettings().Validate()
	if !v.Valid() {
		t.Fatalf("default settings must be valid: %v", v.Errors)
	}
	if v.Err() != nil {
		t.Fatalf("expected nil error for valid settings")
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mutate         func(*AutomationSettings)
		expectErrors   int
		expectWarnings int
		expectRecs     int
	}{
		{
			name:         "week lower than day",
			mutate:       func(s *AutomationSettings) { s.MaxPerDay = 10; s.MaxPerWeek = 5 },
			expectErrors: 1,
		},
		{
			name:         "threshold out of range",
			mutate:       func(s *AutomationSettings) { s.MinMatchScore = 1.5 },
			expectErrors: 1,
		},
		{
			name:         "delay below minimum",
			mutate:       func(s *AutomationSettings) { s.Delay = time.Minute },
			expectErrors: 1, expectWarnings: 1,
		},
		{
			name:         "zero daily cap",
			mutate:       func(s *AutomationSettings) { s.MaxPerDay = 0 },
			expectErrors: 1,
		},
		{
			name: "aggressive but valid",
			mutate: func(s *AutomationSettings) {
				s.MaxPerDay = 25
				s.MaxPerWeek = 100
				s.MinMatchScore = 0.4
			},
			expectWarnings: 2, expectRecs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultAutomationSettings()
			tt.mutate(&s)
			v := s.Validate()
			if len(v.Errors) != tt.expectErrors {
				t.Fatalf("expected %d errors, got %v", tt.expectErrors, v.Errors)
			}
			if len(v.Warnings) != tt.expectWarnings {
				t.Fatalf("expected %d warnings, got %v", tt.expectWarnings, v.Warnings)
			}
			if len(v.Recommendations) != tt.expectRecs {
				t.Fatalf("expected %d recommendations, got %v", tt.expectRecs, v.Recommendations)
			}
			if tt.expectErrors > 0 && !errors.Is(v.Err(), ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", v.Err())
			}
		})
	}
}

const userDoc = `
profile:
  name: Alice
  skills: [Go, SQL]
  experience-years: 6
  industries: [fintech]
preferences:
  titles: [" Backend Engineer ", ""]
  locations: [Berlin]
  remote: true
  salary:
    min: 80000
    max: 120000
  employment-types: [fulltime]
  credentials:
    username: alice
    password-file: %s
  automation:
    max-per-day: 3
    delay: 45m
`

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "password")
	if err := os.WriteFile(secret, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc := []byte(fmt.Sprintf(userDoc, secret))
	if err := os.WriteFile(filepath.Join(dir, "alice.yaml"), doc, 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(dir)
	ctx := context.Background()

	c, err := store.Candidate(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.UserID != "alice" || len(c.Skills) != 2 || c.ExperienceYears != 6 {
		t.Fatalf("unexpected candidate: %+v", c)
	}

	p, err := store.Preferences(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Titles) != 1 || p.Titles[0] != "Backend Engineer" {
		t.Fatalf("titles were not normalized: %q", p.Titles)
	}
	if p.Automation.MaxPerDay != 3 || p.Automation.MaxPerWeek != 25 {
		t.Fatalf("unexpected automation caps: %+v", p.Automation)
	}
	if p.Automation.Delay != 45*time.Minute || p.Automation.MinMatchScore != 0.7 {
		t.Fatalf("defaults were not merged: %+v", p.Automation)
	}
	if p.Credentials == nil || p.Credentials.Password != "s3cret" {
		t.Fatalf("password was not resolved from file: %+v", p.Credentials)
	}

	if _, err := store.Preferences(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Preferences(ctx, "../etc/passwd"); err == nil {
		t.Fatalf("expected error for path-like user id")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Candidate{UserID: "u1"}, &Preferences{UserID: "u1", Remote: true})

	p, err := store.Preferences(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	p.Remote = false

	again, _ := store.Preferences(context.Background(), "u1")
	if !again.Remote {
		t.Fatalf("mutating a returned copy changed the store")
	}
}

func TestPrefersEmployer(t *testing.T) {
	p := &Preferences{PreferredEmployers: []string{"acme"}}
	if !p.PrefersEmployer("ACME Corp") {
		t.Fatalf("expected substring employer match")
	}
	if p.PrefersEmployer("") {
		t.Fatalf("empty employer must not match")
	}
}
