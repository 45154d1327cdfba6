package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/ai/gemini"
	"github.com/spigell/autoapply/internal/board"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/submission"
	"github.com/spigell/autoapply/internal/workflow"
)

const (
	app       = "autoapply"
	envPrefix = "AUTOAPPLY"
)

type Config struct {
	ProfilesDir string            `mapstructure:"profiles-dir"`
	AppliedFile string            `mapstructure:"applied-file"`
	Users       []string          `mapstructure:"users"`
	Board       board.Config      `mapstructure:"board"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Scheduler   workflow.Config   `mapstructure:"scheduler"`
	Submission  submission.Config `mapstructure:"submission"`
	Ranking     RankingConfig     `mapstructure:"ranking"`
	Filters     FiltersConfig     `mapstructure:"filters"`
	AI          AIConfig          `mapstructure:"ai"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
	// Stream is the activity stream key. Empty disables the redis activity log.
	Stream string `mapstructure:"stream"`
}

type RankingConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// FiltersConfig adds operator wide stages to the filter chain.
type FiltersConfig struct {
	Criteria          filtering.Criteria `mapstructure:"criteria"`
	ExcludedEmployers []string           `mapstructure:"excluded-employers"`
	// Disabled lists stage names kept in the chain but skipped.
	Disabled []string `mapstructure:"disabled"`
}

type AIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Tone    string        `mapstructure:"tone"`
	Gemini  gemini.Config `mapstructure:"gemini"`
	// Similarity enables model based similarity in match scoring.
	Similarity bool `mapstructure:"similarity"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "autoapply finds matching job postings and applies to them on a schedule",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is autoapply.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.PersistentFlags().StringSlice("disable-filter", nil, "filter stages to skip, by name")
	viper.BindPFlag("filters.disabled", rootCmd.PersistentFlags().Lookup("disable-filter"))
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	// The version command works without a config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults() {
	viper.SetDefault("profiles-dir", "profiles")
	viper.SetDefault("applied-file", "")
	viper.SetDefault("users", []string{})
	viper.SetDefault("board.url", "")
	viper.SetDefault("board.token-file", "")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.prefix", "")
	viper.SetDefault("redis.stream", "")
	viper.SetDefault("scheduler.max-concurrent", workflow.DefaultMaxConcurrent)
	viper.SetDefault("scheduler.batch-limit", workflow.DefaultBatchLimit)
	viper.SetDefault("scheduler.workflow-timeout", workflow.DefaultWorkflowTimeout)
	viper.SetDefault("scheduler.sweep-schedule", workflow.DefaultSweepSchedule)
	viper.SetDefault("scheduler.retention", workflow.DefaultRetention)
	viper.SetDefault("submission.max-attempts", submission.DefaultMaxAttempts)
	viper.SetDefault("ranking.strategy", "")
	viper.SetDefault("filters.excluded-employers", []string{})
	viper.SetDefault("filters.disabled", []string{})
	viper.SetDefault("ai.enabled", false)
	viper.SetDefault("ai.gemini.api-key-file", "")
	viper.SetDefault("metrics.address", ":9090")
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	return config, nil
}
