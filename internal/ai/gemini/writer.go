package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/submission"
)

const (
	KindCoverLetter = "cover_letter"
	KindResume      = "resume"

	writerSystem = "You are a careful career assistant. Follow the rules in the prompt exactly."
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, prompt string) (string, error)
}

// CoverLetters writes a cover letter per posting.
type CoverLetters struct {
	generator contentGenerator
	tone      string
	logger    *zap.Logger
}

func NewCoverLetters(generator contentGenerator, tone string, log *zap.Logger) *CoverLetters {
	if log == nil {
		log = zap.NewNop()
	}
	if tone = strings.TrimSpace(tone); tone == "" {
		tone = defaultTone
	}
	return &CoverLetters{generator: generator, tone: tone, logger: log.Named("cover-letters")}
}

func (w *CoverLetters) Generate(ctx context.Context, p *posting.Posting, c *profile.Candidate, _ *profile.Preferences) (*submission.Document, error) {
	if p == nil || c == nil {
		return nil, errors.New("posting and candidate are required")
	}

	postingPayload, err := postingJSON(p)
	if err != nil {
		return nil, err
	}
	candidatePayload, err := candidateJSON(c)
	if err != nil {
		return nil, err
	}

	prompt := fill(coverLetterTemplate, map[string]string{
		"TONE":           w.tone,
		"CANDIDATE_JSON": candidatePayload,
		"POSTING_JSON":   postingPayload,
	})

	raw, err := w.generator.GenerateContent(ctx, writerSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("cover letter: %w", err)
	}

	doc := &submission.Document{ID: uuid.NewString(), Kind: KindCoverLetter, Body: plainText(raw)}
	w.logger.Debug("cover letter generated",
		append(logger.PostingFields(p.ID, p.URL), zap.String("document_id", doc.ID))...,
	)
	return doc, nil
}

// Resumes tailors the candidate resume per posting.
type Resumes struct {
	generator contentGenerator
	logger    *zap.Logger
}

func NewResumes(generator contentGenerator, log *zap.Logger) *Resumes {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resumes{generator: generator, logger: log.Named("resumes")}
}

// Customize returns a tailored resume. A candidate without a resume gets an
// error since there is nothing to tailor.
func (r *Resumes) Customize(ctx context.Context, p *posting.Posting, c *profile.Candidate) (*submission.Document, error) {
	if p == nil || c == nil {
		return nil, errors.New("posting and candidate are required")
	}
	resume := strings.TrimSpace(c.Resume)
	if resume == "" {
		return nil, fmt.Errorf("candidate %s has no resume", c.UserID)
	}

	postingPayload, err := postingJSON(p)
	if err != nil {
		return nil, err
	}

	skills := "none"
	if len(p.Skills) > 0 {
		skills = strings.Join(p.Skills, ", ")
	}

	prompt := fill(resumeTemplate, map[string]string{
		"SKILLS":       skills,
		"RESUME":       resume,
		"POSTING_JSON": postingPayload,
	})

	raw, err := r.generator.GenerateContent(ctx, writerSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}

	doc := &submission.Document{ID: uuid.NewString(), Kind: KindResume, Body: plainText(raw)}
	r.logger.Debug("resume customized",
		append(logger.PostingFields(p.ID, p.URL), zap.String("document_id", doc.ID))...,
	)
	return doc, nil
}
