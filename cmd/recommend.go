package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/recommend"
)

const (
	PromptYes                 = "Apply to all"
	PromptNo                  = "No"
	PromptBack                = "back"
	PromptReportByEmployers   = "Report by employers"
	PromptManualApply         = "Apply to postings in manual mode"
	PromptAppendToAppliedFile = "Append all postings to applied file"
	PromptPostingsToFile      = "Dump postings to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Procced?",
	Items: []string{PromptYes, PromptNo, PromptReportByEmployers, PromptManualApply, PromptPostingsToFile},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Print ranked recommendations for a user and optionally apply to them",
	Run: func(cmd *cobra.Command, _ []string) {
		recommendRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().String("user", "", "user to build recommendations for")
	recommendCmd.Flags().Int("limit", recommend.DefaultLimit, "maximum number of recommendations")
	recommendCmd.Flags().Float64("min-score", recommend.DefaultMinScore, "minimum match score")
	recommendCmd.Flags().String("strategy", "", fmt.Sprintf("ranking strategy, one of %v", ranking.Strategies()))
	recommendCmd.Flags().BoolP("interactive", "i", false, "review recommendations interactively")
	recommendCmd.Flags().Bool("apply", false, "apply to every recommendation without asking")
	recommendCmd.MarkFlagRequired("user")
}

// session is the state of one recommend invocation.
type session struct {
	c      *components
	logger *zap.Logger
	userID string
	found  *posting.Postings
}

func recommendRun(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	c, err := build(ctx, config, logger)
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer c.close(ctx, logger)

	flags := cmd.Flags()
	userID, _ := flags.GetString("user")
	limit, _ := flags.GetInt("limit")
	minScore, _ := flags.GetFloat64("min-score")
	name, _ := flags.GetString("strategy")
	interactive, _ := flags.GetBool("interactive")
	applyAll, _ := flags.GetBool("apply")

	strategy := config.Scheduler.Strategy
	if name != "" {
		if strategy, err = ranking.ParseStrategy(name); err != nil {
			logger.Fatal("parsing strategy", zap.Error(err))
		}
	}

	recs, stats, err := c.scheduler.GetRecommendations(ctx, userID, limit, minScore, strategy)
	if err != nil {
		logger.Fatal("building recommendations", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(map[string]any{"recommendations": recs, "stats": stats}, "", "  ")
	fmt.Fprintln(os.Stdout, string(pretty))

	if len(recs) == 0 {
		logger.Info("exiting", zap.String("reason", "no recommendations"))
		return
	}

	s := &session{c: c, logger: logger, userID: userID, found: &posting.Postings{}}
	for _, r := range recs {
		s.found.Items = append(s.found.Items, r.Posting)
	}

	switch {
	case applyAll:
		if err := s.apply(ctx, s.found.Items); err != nil {
			logger.Fatal("applying", zap.Error(err))
		}
	case interactive:
		for {
			_, action, err := prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}

			logger.Info("current list of postings", zap.Int("count", s.found.Len()))

			if err := s.handleAction(ctx, action); err != nil {
				if errors.Is(err, errExit) {
					return
				}
				logger.Fatal("exiting", zap.Error(err))
			}
		}
	}
}

func (s *session) handleAction(ctx context.Context, action string) error {
	switch action {
	case PromptYes:
		if err := s.apply(ctx, s.found.Items); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		s.logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptManualApply:
		return s.manualApply(ctx)
	case PromptReportByEmployers:
		pretty, _ := json.MarshalIndent(s.found.ReportByEmployer(), "", "  ")
		s.logger.Info(string(pretty), zap.Int("postings count", s.found.Len()))
		return nil
	case PromptPostingsToFile:
		filename, err := s.found.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		s.logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func (s *session) manualApply(ctx context.Context) error {
	for {
		items := make([]string, 0, s.found.Len()+2)
		for _, p := range s.found.Items {
			items = append(items, fmt.Sprintf("%s %s / %s / %s", p.ID, p.Title, p.Employer.Name, p.URL))
		}

		if s.c.ledger != nil && s.found.Len() != 0 {
			items = append(items, PromptAppendToAppliedFile)
		}

		postingPrompt := promptui.Select{
			Label: "Choose a posting and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := postingPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return nil
		case PromptAppendToAppliedFile:
			now := time.Now()
			for _, p := range s.found.Items {
				if err := s.c.ledger.RecordApplied(ctx, s.userID, p, now); err != nil {
					return err
				}
			}
			s.logger.Info("appended to applied file", zap.Int("count", s.found.Len()))
			s.found.Items = nil
		default:
			id := strings.Split(selected, " ")[0]
			p := s.found.FindByID(id)
			if p == nil {
				return fmt.Errorf("there is no such posting id %s", id)
			}
			if err := s.apply(ctx, []*posting.Posting{p}); err != nil {
				return err
			}
			s.found.Exclude([]string{p.Key()})
		}
	}
}

// apply submits to the chosen postings. The operator already chose them, so
// the automation rules and score threshold are skipped.
func (s *session) apply(ctx context.Context, postings []*posting.Posting) error {
	candidate, err := s.c.profiles.Candidate(ctx, s.userID)
	if err != nil {
		return err
	}
	prefs, err := s.c.profiles.Preferences(ctx, s.userID)
	if err != nil {
		return err
	}

	reqs := make([]orchestrator.Request, 0, len(postings))
	for _, p := range postings {
		reqs = append(reqs, orchestrator.Request{
			UserID:      s.userID,
			Posting:     p,
			Candidate:   candidate,
			Preferences: prefs,
			Force:       true,
		})
	}

	results := s.c.orchestrator.ApplyBatch(ctx, reqs)
	for i, res := range results {
		if res.Status != orchestrator.StatusCompleted {
			s.logger.Warn("application was not completed",
				zap.String("posting_url", res.PostingURL),
				zap.String("status", string(res.Status)),
				zap.String("reason", res.Reason),
			)
			continue
		}
		if err := s.remember(ctx, reqs[i].Posting, res.CompletedAt); err != nil {
			s.logger.Warn("recording application", zap.String("posting_url", res.PostingURL), zap.Error(err))
		}
	}

	pretty, _ := json.MarshalIndent(results, "", "  ")
	fmt.Fprintln(os.Stdout, string(pretty))
	return nil
}

func (s *session) remember(ctx context.Context, p *posting.Posting, at time.Time) error {
	switch {
	case s.c.redis != nil:
		return s.c.redis.RecordApplied(ctx, s.userID, p, at)
	case s.c.ledger != nil:
		return s.c.ledger.RecordApplied(ctx, s.userID, p, at)
	}
	return nil
}
