package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

type stubGenerator struct {
	mu         sync.Mutex
	response   string
	err        error
	calls      int
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, _, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

type stubCandidates map[string]*profile.Candidate

func (s stubCandidates) Candidate(_ context.Context, userID string) (*profile.Candidate, error) {
	c, ok := s[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return c, nil
}

func goPosting() *posting.Posting {
	return &posting.Posting{
		ID:          "p1",
		URL:         "https://board.example/jobs/p1",
		Title:       "Senior Go Engineer",
		Employer:    posting.Employer{Name: "Acme", Industry: "Fintech"},
		Location:    posting.Location{City: "Berlin", Remote: true},
		Skills:      []string{"Go", "Kubernetes"},
		Description: "Build payment services in Go.",
	}
}

func candidate() *profile.Candidate {
	return &profile.Candidate{
		UserID:          "alice",
		Name:            "Alice",
		Skills:          []string{"Go", "Postgres"},
		ExperienceYears: 6,
		Resume:          "Alice. Six years of Go.",
	}
}

func TestCoverLetterPrompt(t *testing.T) {
	stub := &stubGenerator{response: "```\nDear Acme team\n```"}
	w := NewCoverLetters(stub, "", nil)

	doc, err := w.Generate(context.Background(), goPosting(), candidate(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Kind != KindCoverLetter || doc.ID == "" || doc.Body != "Dear Acme team" {
		t.Fatalf("unexpected document %+v", doc)
	}

	for _, want := range []string{"- Tone: Friendly", `"employer": "Acme"`, `"name": "Alice"`, "Build payment services in Go."} {
		if !strings.Contains(stub.lastPrompt, want) {
			t.Fatalf("expected prompt to contain %q, got %s", want, stub.lastPrompt)
		}
	}
	if strings.Contains(stub.lastPrompt, "{{") {
		t.Fatalf("unfilled placeholder in prompt: %s", stub.lastPrompt)
	}
}

func TestResumeCustomization(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{response: "Alice. Go and Kubernetes."}
	r := NewResumes(stub, nil)

	doc, err := r.Customize(context.Background(), goPosting(), candidate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Kind != KindResume || doc.Body != "Alice. Go and Kubernetes." {
		t.Fatalf("unexpected document %+v", doc)
	}
	if !strings.Contains(stub.lastPrompt, "supports them: Go, Kubernetes") || !strings.Contains(stub.lastPrompt, "Six years of Go.") {
		t.Fatalf("unexpected prompt %s", stub.lastPrompt)
	}

	empty := candidate()
	empty.Resume = " "
	if _, err := r.Customize(context.Background(), goPosting(), empty); err == nil {
		t.Fatal("expected an error for a candidate without resume")
	}
}

func TestWriterPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	stub := &stubGenerator{err: boom}

	if _, err := NewCoverLetters(stub, "Calm", nil).Generate(context.Background(), goPosting(), candidate(), nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if _, err := NewResumes(stub, nil).Customize(context.Background(), goPosting(), candidate()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
		wantErr  bool
	}{
		{name: "plain", response: `{"score": 0.8, "reason": "Strong Go match"}`, want: 0.8},
		{name: "code block with string score", response: "```json\n{\"score\": \"0.65\"}\n```", want: 0.65},
		{name: "clamped", response: `{"score": 3}`, want: 1},
		{name: "missing score", response: `{"reason": "n/a"}`, wantErr: true},
		{name: "not json", response: "I think it fits", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stub := &stubGenerator{response: tt.response}
			s := NewSimilarity(stub, stubCandidates{"alice": candidate()}, nil)

			got, err := s.Similarity(context.Background(), goPosting(), "alice")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSimilarityCachesAnswers(t *testing.T) {
	stub := &stubGenerator{response: `{"score": 0.7}`}
	s := NewSimilarity(stub, stubCandidates{"alice": candidate()}, nil)

	for range 3 {
		if _, err := s.Similarity(context.Background(), goPosting(), "alice"); err != nil {
			t.Fatal(err)
		}
	}
	if stub.calls != 1 {
		t.Fatalf("expected a single model call, got %d", stub.calls)
	}

	changed := goPosting()
	changed.Description = "Now in Rust."
	if _, err := s.Similarity(context.Background(), changed, "alice"); err != nil {
		t.Fatal(err)
	}
	if stub.calls != 2 {
		t.Fatalf("expected a changed posting to miss the cache, got %d calls", stub.calls)
	}

	if _, err := s.Similarity(context.Background(), goPosting(), "bob"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown user, got %v", err)
	}
}
