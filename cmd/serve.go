package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled application workflows for the configured users",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSliceP("user", "u", nil, "users to automate (overrides the users key)")
	serveCmd.Flags().String("metrics-address", "", "address for the /metrics endpoint")

	viper.BindPFlag("users", serveCmd.Flags().Lookup("user"))
	viper.BindPFlag("metrics.address", serveCmd.Flags().Lookup("metrics-address"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the autoapply", zap.String("version", version))

	if len(config.Users) == 0 {
		logger.Fatal("nothing to do", zap.Error(errNoUsers), zap.String("hint", "set the users key or pass --user"))
	}

	c, err := build(ctx, config, logger)
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}

	enabled := 0
	for _, user := range config.Users {
		validation, err := c.scheduler.EnableAutomation(ctx, user)
		if err != nil {
			logger.Error("enabling automation", zap.String("user_id", user), zap.Error(err), zap.Strings("errors", validation.Errors))
			continue
		}
		enabled++
	}
	if enabled == 0 {
		logger.Fatal("automation could not be enabled for any user")
	}

	if err := c.scheduler.Start(ctx); err != nil {
		logger.Fatal("starting the scheduler", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(c.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              config.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving metrics", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down", zap.Any("stats", c.scheduler.Stats()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := c.scheduler.Close(shutdownCtx); err != nil {
			logger.Warn("stopping workflows", zap.Error(err))
		}
		c.close(shutdownCtx, logger)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}
	logger.Info("stopped")
}
