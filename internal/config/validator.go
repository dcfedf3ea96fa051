package config

import (
	"fmt"
	"os"
)

// ValidateConfig validates a loaded Config and returns an error describing
// every problem found, grounded on the teacher's accumulate-then-join
// validation style (internal/config/validator.go).
func ValidateConfig(cfg *Config) error {
	var errors []string

	if cfg.Pool.MaxWorkers <= 0 {
		errors = append(errors, fmt.Sprintf("pool.maxWorkers must be positive, got: %d", cfg.Pool.MaxWorkers))
	} else if cfg.Pool.MaxWorkers > 10 {
		errors = append(errors, fmt.Sprintf("pool.maxWorkers must be at most 10, got: %d", cfg.Pool.MaxWorkers))
	}
	switch cfg.Pool.Mode {
	case "parallel", "serial":
	default:
		errors = append(errors, fmt.Sprintf("pool.mode must be parallel or serial, got: %q", cfg.Pool.Mode))
	}

	switch cfg.Refinery.OnConflict {
	case "rebase", "escalate":
	default:
		errors = append(errors, fmt.Sprintf("refinery.onConflict must be rebase or escalate, got: %q", cfg.Refinery.OnConflict))
	}
	if cfg.Refinery.MaxRebaseAttempts <= 0 {
		errors = append(errors, fmt.Sprintf("refinery.maxRebaseAttempts must be positive, got: %d", cfg.Refinery.MaxRebaseAttempts))
	}
	if cfg.Refinery.RetryFlakyTests < 0 {
		errors = append(errors, fmt.Sprintf("refinery.retryFlakyTests must not be negative, got: %d", cfg.Refinery.RetryFlakyTests))
	} else if cfg.Refinery.RetryFlakyTests > 5 {
		errors = append(errors, fmt.Sprintf("refinery.retryFlakyTests must be at most 5, got: %d", cfg.Refinery.RetryFlakyTests))
	}
	if cfg.Refinery.TargetBranch == "" {
		errors = append(errors, "refinery.targetBranch must not be empty")
	}

	if cfg.Agents.Primary == "" {
		errors = append(errors, "agentsSection.primary must not be empty")
	}

	switch cfg.ErrorHandling.Strategy {
	case "retry", "skip", "abort":
	default:
		errors = append(errors, fmt.Sprintf("errorHandling.strategy must be retry, skip, or abort, got: %q", cfg.ErrorHandling.Strategy))
	}
	if cfg.ErrorHandling.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("errorHandling.maxRetries must not be negative, got: %d", cfg.ErrorHandling.MaxRetries))
	}
	if cfg.ErrorHandling.RetryDelayMs < 0 {
		errors = append(errors, fmt.Sprintf("errorHandling.retryDelayMs must not be negative, got: %d", cfg.ErrorHandling.RetryDelayMs))
	}

	if cfg.RateLimitHandling.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("rateLimitHandling.maxRetries must not be negative, got: %d", cfg.RateLimitHandling.MaxRetries))
	}
	if cfg.RateLimitHandling.BaseBackoffMs <= 0 {
		errors = append(errors, fmt.Sprintf("rateLimitHandling.baseBackoffMs must be positive, got: %d", cfg.RateLimitHandling.BaseBackoffMs))
	}

	if cfg.MaxIterations < 0 {
		errors = append(errors, fmt.Sprintf("maxIterations must not be negative, got: %d", cfg.MaxIterations))
	}
	if cfg.IterationDelay < 0 {
		errors = append(errors, fmt.Sprintf("iterationDelay must not be negative, got: %d", cfg.IterationDelay))
	}
	if cfg.OutputDir == "" {
		errors = append(errors, "outputDir must not be empty")
	}
	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		errors = append(errors, fmt.Sprintf("metricsPort must be between 1 and 65535, got: %d", cfg.MetricsPort))
	}

	if len(errors) > 0 {
		errorMsg := errors[0]
		for i := 1; i < len(errors); i++ {
			errorMsg += "\n  " + errors[i]
		}
		return fmt.Errorf("configuration validation failed:\n  %s", errorMsg)
	}

	return nil
}

// ValidateAndExit validates cfg and exits with a non-zero code if validation fails.
func ValidateAndExit(cfg *Config) {
	if err := ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
