package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/activity"
	"github.com/spigell/autoapply/internal/ai/gemini"
	"github.com/spigell/autoapply/internal/board"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/metrics"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/ratelimit"
	"github.com/spigell/autoapply/internal/recommend"
	"github.com/spigell/autoapply/internal/secrets"
	"github.com/spigell/autoapply/internal/store"
	"github.com/spigell/autoapply/internal/submission"
	"github.com/spigell/autoapply/internal/workflow"
)

const (
	boardTokenEnv  = "AUTOAPPLY_BOARD_TOKEN"
	geminiKeyEnv   = "GEMINI_API_KEY"
	activityBuffer = 1024
)

// components holds everything built from the config. Optional parts are nil.
type components struct {
	board        *board.Client
	profiles     *profile.FileStore
	redis        *store.Redis
	ledger       *store.FileLedger
	activity     *activity.RedisLog
	policy       *ratelimit.Policy
	pipeline     *recommend.Pipeline
	orchestrator *orchestrator.Orchestrator
	scheduler    *workflow.Scheduler
	registry     *prometheus.Registry
}

func build(ctx context.Context, config *Config, logger *zap.Logger) (*components, error) {
	strategy, err := ranking.ParseStrategy(config.Ranking.Strategy)
	if err != nil {
		return nil, err
	}
	config.Scheduler.Strategy = strategy

	token, err := boardToken(config.Board)
	if err != nil {
		return nil, err
	}

	c := &components{
		board:    board.New(config.Board, token, logger),
		profiles: profile.NewFileStore(config.ProfilesDir),
		policy:   ratelimit.New(config.Scheduler.RateLimit),
		registry: prometheus.NewRegistry(),
	}
	if config.AppliedFile != "" {
		c.ledger = store.NewFileLedger(config.AppliedFile)
	}

	if config.Redis.URL != "" {
		c.redis, err = store.Connect(ctx, config.Redis.URL, config.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis")
	}

	var (
		generator  orchestrator.Generator
		customizer orchestrator.Customizer
		oracle     matching.SimilarityOracle
	)
	if config.AI.Enabled {
		client, err := newGemini(ctx, config.AI.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("building gemini client: %w", err)
		}
		generator = gemini.NewCoverLetters(client, config.AI.Tone, logger)
		customizer = gemini.NewResumes(client, logger)
		if config.AI.Similarity {
			oracle = gemini.NewSimilarity(client, c.profiles, logger)
		}
		logger.Info("ai content generation enabled", zap.String("model", client.Model()))
	}

	scorer := matching.NewScorer(oracle, logger)

	pipelineDeps := recommend.Deps{
		Source:   c.board,
		Profiles: c.profiles,
		Scorer:   scorer,
		Chain:    prepareFilters(config.Filters, logger),
		Ranker:   ranking.New(),
		Logger:   logger.Named("recommend"),
	}
	switch {
	case c.redis != nil:
		pipelineDeps.Applied = c.redis
	case c.ledger != nil:
		pipelineDeps.Applied = c.ledger
	}
	c.pipeline = recommend.New(pipelineDeps)

	c.orchestrator = orchestrator.New(orchestrator.Deps{
		Scorer:     scorer,
		Customizer: customizer,
		Generator:  generator,
		Submitter:  submission.NewRetrier(c.board, config.Submission, logger.Named("submission")),
		Policy:     c.policy,
		Logger:     logger.Named("orchestrator"),
	})

	activities := activity.Multi{activity.NewZap(logger)}
	if c.redis != nil && config.Redis.Stream != "" {
		c.activity = activity.NewRedis(c.redis.Client(), c.redis.Key(config.Redis.Stream), activityBuffer, logger)
		activities = append(activities, c.activity)
	}

	deps := workflow.Deps{
		Pipeline:     c.pipeline,
		Orchestrator: c.orchestrator,
		Profiles:     c.profiles,
		Policy:       c.policy,
		Activity:     activities,
		Metrics:      metrics.New(c.registry),
		Logger:       logger,
	}
	switch {
	case c.redis != nil:
		deps.States = c.redis
		deps.Applied = c.redis
	case c.ledger != nil:
		deps.Applied = c.ledger
	}
	c.scheduler = workflow.New(config.Scheduler, deps)

	return c, nil
}

// close releases the connections. The scheduler must be closed before.
// prepareFilters builds the chain with the configured extra stages and logs
// what is enabled.
func prepareFilters(cfg FiltersConfig, logger *zap.Logger) *filtering.Chain {
	extra := []filtering.Filter{filtering.NewCriteria(cfg.Criteria)}
	if len(cfg.ExcludedEmployers) > 0 {
		extra = append(extra, excludedEmployers(cfg.ExcludedEmployers))
	}

	chain := filtering.New(logger.Named("filtering"), extra...)

	known := make(map[string]bool)
	for _, step := range chain.Steps() {
		known[step.Name()] = true
	}
	for _, name := range cfg.Disabled {
		if !known[name] {
			logger.Warn("unknown filter in disabled list", zap.String("filter", name))
			continue
		}
		filtering.DisableByName(chain.Steps(), name, "disabled in config")
	}

	for _, st := range filtering.Describe(chain.Steps()) {
		logger.Info("filter",
			zap.String("name", st.Name),
			zap.Bool("enabled", st.Enabled),
			zap.String("reason", st.Reason),
			zap.Any("details", st.Details),
		)
	}
	return chain
}

func excludedEmployers(names []string) filtering.Filter {
	return filtering.NewFunc("excluded-employers", func(in filtering.Input) (string, bool) {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(name), in.Posting.Employer.Name) {
				return fmt.Sprintf("Employer '%s' is excluded", in.Posting.Employer.Name), true
			}
		}
		return "", false
	})
}

func (c *components) close(ctx context.Context, logger *zap.Logger) {
	if c.activity != nil {
		if err := c.activity.Close(ctx); err != nil {
			logger.Warn("flushing activity log", zap.Error(err))
		}
		logger.Info("activity log flushed",
			zap.Int64("written", c.activity.Written()),
			zap.Int64("dropped", c.activity.Dropped()),
		)
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("closing redis", zap.Error(err))
		}
	}
}

// boardToken returns an empty token when none is configured. Public boards
// accept anonymous searches.
func boardToken(cfg board.Config) (string, error) {
	if cfg.TokenFile == "" {
		if _, ok := os.LookupEnv(boardTokenEnv); !ok {
			return "", nil
		}
	}

	token, err := secrets.Load(secrets.Source{
		Name: "board token",
		File: cfg.TokenFile,
		Env:  boardTokenEnv,
	})
	if err != nil {
		return "", fmt.Errorf("%w (set board.token-file or %s)", err, boardTokenEnv)
	}
	return token, nil
}

func newGemini(ctx context.Context, cfg gemini.Config, logger *zap.Logger) (*gemini.Client, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.APIKeyFile,
		Env:   geminiKeyEnv,
		Value: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or %s)", err, geminiKeyEnv)
	}
	cfg.APIKey = apiKey

	return gemini.NewClient(ctx, cfg, logger)
}

var errNoUsers = errors.New("no users configured")
