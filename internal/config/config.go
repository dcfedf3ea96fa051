// Package config loads the dispatcher's configuration surface from a
// YAML file, environment variables, and defaults, grounded on the
// teacher's viper-plus-godotenv loading style (internal/config/load.go),
// generalized from a flat key set to the typed pool/refinery/agents/
// error-handling/rate-limit-handling sections this system's surface
// requires (spec §6).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SchedulingConfig controls the scheduler's dependency strictness and
// track awareness.
type SchedulingConfig struct {
	StrictDependencies bool `mapstructure:"strictDependencies"`
	UseParallelTracks  bool `mapstructure:"useParallelTracks"`
}

// PoolConfig controls the worker dispatcher.
type PoolConfig struct {
	Mode        string           `mapstructure:"mode"`
	MaxWorkers  int              `mapstructure:"maxWorkers"`
	WorktreeDir string           `mapstructure:"worktreeDir"`
	Scheduling  SchedulingConfig `mapstructure:"scheduling"`
}

// RefineryConfig controls the merge coordinator.
type RefineryConfig struct {
	TargetBranch     string `mapstructure:"targetBranch"`
	RunTests         bool   `mapstructure:"runTests"`
	TestCommand      string `mapstructure:"testCommand"`
	OnConflict       string `mapstructure:"onConflict"`
	DeleteAfterMerge bool   `mapstructure:"deleteAfterMerge"`
	RetryFlakyTests  int    `mapstructure:"retryFlakyTests"`
	MaxRebaseAttempts int   `mapstructure:"maxRebaseAttempts"`
}

// AgentsConfig names the primary agent and its ordered fallback chain.
type AgentsConfig struct {
	Primary  string   `mapstructure:"primary"`
	Fallback []string `mapstructure:"fallback"`
}

// ErrorHandlingConfig controls how iteration failures are treated.
type ErrorHandlingConfig struct {
	Strategy              string `mapstructure:"strategy"`
	MaxRetries            int    `mapstructure:"maxRetries"`
	RetryDelayMs          int    `mapstructure:"retryDelayMs"`
	ContinueOnNonZeroExit bool   `mapstructure:"continueOnNonZeroExit"`
}

// RateLimitHandlingConfig controls the rate-limit coordinator.
type RateLimitHandlingConfig struct {
	Enabled                       bool `mapstructure:"enabled"`
	MaxRetries                    int  `mapstructure:"maxRetries"`
	BaseBackoffMs                 int  `mapstructure:"baseBackoffMs"`
	RecoverPrimaryBetweenIterations bool `mapstructure:"recoverPrimaryBetweenIterations"`
}

// Config is the full, typed configuration surface (spec §6).
type Config struct {
	Pool              PoolConfig              `mapstructure:"pool"`
	Refinery          RefineryConfig          `mapstructure:"refinery"`
	Agents            AgentsConfig            `mapstructure:"agentsSection"`
	ErrorHandling     ErrorHandlingConfig     `mapstructure:"errorHandling"`
	RateLimitHandling RateLimitHandlingConfig `mapstructure:"rateLimitHandling"`

	MaxIterations   int    `mapstructure:"maxIterations"`
	IterationDelay  int    `mapstructure:"iterationDelay"`
	OutputDir       string `mapstructure:"outputDir"`
	ProgressFile    string `mapstructure:"progressFile"`
	AutoCommit      bool   `mapstructure:"autoCommit"`
	MetricsPort     int    `mapstructure:"metricsPort"`
	Verbose         bool   `mapstructure:"verbose"`
}

func setDefaults() {
	viper.SetDefault("pool.mode", "parallel")
	viper.SetDefault("pool.maxWorkers", 3)
	viper.SetDefault("pool.worktreeDir", ".ralph-workers")
	viper.SetDefault("pool.scheduling.strictDependencies", true)
	viper.SetDefault("pool.scheduling.useParallelTracks", false)

	viper.SetDefault("refinery.targetBranch", "main")
	viper.SetDefault("refinery.runTests", true)
	viper.SetDefault("refinery.testCommand", "")
	viper.SetDefault("refinery.onConflict", "rebase")
	viper.SetDefault("refinery.deleteAfterMerge", true)
	viper.SetDefault("refinery.retryFlakyTests", 1)
	viper.SetDefault("refinery.maxRebaseAttempts", 3)

	viper.SetDefault("agentsSection.primary", "claude")
	viper.SetDefault("agentsSection.fallback", []string{})

	viper.SetDefault("errorHandling.strategy", "retry")
	viper.SetDefault("errorHandling.maxRetries", 3)
	viper.SetDefault("errorHandling.retryDelayMs", 5000)
	viper.SetDefault("errorHandling.continueOnNonZeroExit", false)

	viper.SetDefault("rateLimitHandling.enabled", true)
	viper.SetDefault("rateLimitHandling.maxRetries", 5)
	viper.SetDefault("rateLimitHandling.baseBackoffMs", 30000)
	viper.SetDefault("rateLimitHandling.recoverPrimaryBetweenIterations", true)

	viper.SetDefault("maxIterations", 50)
	viper.SetDefault("iterationDelay", 2000)
	viper.SetDefault("outputDir", ".ralph-tui")
	viper.SetDefault("progressFile", "progress.json")
	viper.SetDefault("autoCommit", false)
	viper.SetDefault("metricsPort", 2112)
	viper.SetDefault("verbose", false)
}

// Load reads configuration from cfgFile (or ./config.yaml if empty),
// environment variables prefixed RALPHCORE_, and a .env file, then
// unmarshals it into a typed Config. It creates a default config.yaml
// when no config file is given or found and RALPHCORE_POOL_MODE is unset.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // no .env file is not an error
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("RALPHCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile == "" && os.Getenv("RALPHCORE_POOL_MODE") == "" {
		if _, statErr := os.Stat("config.yaml"); os.IsNotExist(statErr) {
			if writeErr := viper.WriteConfigAs("config.yaml"); writeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to create default config file: %v\n", writeErr)
			} else {
				fmt.Println("Created default configuration file: config.yaml")
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
