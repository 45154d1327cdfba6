package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/profile"
)

const similaritySystem = "You are a strict technical recruiter. Answer with JSON only."

type candidateSource interface {
	Candidate(ctx context.Context, userID string) (*profile.Candidate, error)
}

// Similarity asks the model how close a posting is to a candidate profile.
// Answers are cached per user, posting and candidate content.
type Similarity struct {
	generator  contentGenerator
	candidates candidateSource
	logger     *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string]float64
}

func NewSimilarity(generator contentGenerator, candidates candidateSource, log *zap.Logger) *Similarity {
	if log == nil {
		log = zap.NewNop()
	}
	return &Similarity{
		generator:  generator,
		candidates: candidates,
		logger:     log.Named("similarity"),
		cache:      make(map[string]float64),
	}
}

func (s *Similarity) Similarity(ctx context.Context, p *posting.Posting, userID string) (float64, error) {
	if p == nil {
		return 0, errors.New("posting is required")
	}

	c, err := s.candidates.Candidate(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading candidate %s: %w", userID, err)
	}

	candidatePayload, err := candidateJSON(c)
	if err != nil {
		return 0, err
	}
	postingPayload, err := postingJSON(p)
	if err != nil {
		return 0, err
	}

	sum := sha256.Sum256([]byte(userID + "\x00" + candidatePayload + "\x00" + postingPayload))
	key := fmt.Sprintf("%x", sum[:])

	s.cacheMu.RLock()
	score, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		return score, nil
	}

	prompt := fill(similarityTemplate, map[string]string{
		"CANDIDATE_JSON": candidatePayload,
		"POSTING_JSON":   postingPayload,
	})

	raw, err := s.generator.GenerateContent(ctx, similaritySystem, prompt)
	if err != nil {
		return 0, err
	}

	score, reason, err := parseSimilarity(raw)
	if err != nil {
		return 0, err
	}

	s.cacheMu.Lock()
	s.cache[key] = score
	s.cacheMu.Unlock()

	s.logger.Debug("similarity scored",
		zap.String("posting_url", p.URL),
		zap.String("user_id", userID),
		zap.Float64("score", score),
		zap.String("reason", reason),
	)
	return score, nil
}

func parseSimilarity(raw string) (float64, string, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return 0, "", fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return 0, "", errors.New("gemini response has no score")
	}
	return math.Max(0, math.Min(1, score)), coerceString(data["reason"]), nil
}
