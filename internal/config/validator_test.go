package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Mode:        "parallel",
			MaxWorkers:  3,
			WorktreeDir: ".ralph-workers",
		},
		Refinery: RefineryConfig{
			TargetBranch:      "main",
			OnConflict:        "rebase",
			MaxRebaseAttempts: 3,
			RetryFlakyTests:   1,
		},
		Agents: AgentsConfig{Primary: "claude"},
		ErrorHandling: ErrorHandlingConfig{
			Strategy:     "retry",
			MaxRetries:   3,
			RetryDelayMs: 5000,
		},
		RateLimitHandling: RateLimitHandlingConfig{
			Enabled:        true,
			MaxRetries:     5,
			BaseBackoffMs:  30000,
		},
		MaxIterations:  50,
		IterationDelay: 2000,
		OutputDir:      ".ralph-tui",
		MetricsPort:    2112,
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfigRejectsNonPositiveMaxWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.MaxWorkers = 0
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "pool.maxWorkers must be positive")
}

func TestValidateConfigRejectsBadPoolMode(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.Mode = "sideways"
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "pool.mode must be parallel or serial")
}

func TestValidateConfigRejectsBadOnConflict(t *testing.T) {
	cfg := validConfig()
	cfg.Refinery.OnConflict = "ignore"
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "refinery.onConflict must be rebase or escalate")
}

func TestValidateConfigAcceptsEscalateOnConflict(t *testing.T) {
	cfg := validConfig()
	cfg.Refinery.OnConflict = "escalate"
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigAcceptsZeroMaxIterationsAsUnlimited(t *testing.T) {
	cfg := validConfig()
	cfg.MaxIterations = 0
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsNegativeMaxIterations(t *testing.T) {
	cfg := validConfig()
	cfg.MaxIterations = -1
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "maxIterations must not be negative")
}

func TestValidateConfigRejectsNonPositiveMaxRebaseAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.Refinery.MaxRebaseAttempts = 0
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "refinery.maxRebaseAttempts must be positive")
}

func TestValidateConfigRejectsEmptyPrimaryAgent(t *testing.T) {
	cfg := validConfig()
	cfg.Agents.Primary = ""
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "agentsSection.primary must not be empty")
}

func TestValidateConfigRejectsBadErrorStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.ErrorHandling.Strategy = "panic"
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "errorHandling.strategy must be retry, skip, or abort")
}

func TestValidateConfigRejectsBadMetricsPort(t *testing.T) {
	cfg := validConfig()
	cfg.MetricsPort = 99999
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "metricsPort must be between 1 and 65535")
}

func TestValidateConfigJoinsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.MaxWorkers = -1
	cfg.MaxIterations = -1
	err := ValidateConfig(cfg)
	assert.ErrorContains(t, err, "configuration validation failed")
	assert.ErrorContains(t, err, "pool.maxWorkers must be positive")
	assert.ErrorContains(t, err, "maxIterations must not be negative")
}
