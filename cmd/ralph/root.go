package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ralphcore/ralphcore/internal/config"
	"github.com/ralphcore/ralphcore/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exit = os.Exit
var cfgFile string
var tasksFile string
var repoDir string

var rootCmd = &cobra.Command{
	Use:           "ralph",
	Short:         "ralph drives the parallel execution core of an autonomous coding-agent runner",
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n=== CRITICAL ERROR: command execution panic ===\n")
			fmt.Fprintf(os.Stderr, "Error: %v\n", r)
			exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tasksFile, "tasks", "tasks.json", "tracker task file (.json or .db/.sqlite)")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "path to the target git repository")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose/debug logging")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refineryCmd)
	rootCmd.AddCommand(doctorCmd)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return nil
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return nil
	}

	verbose := viper.GetBool("verbose")
	telemetry.InitLogger(verbose, "")

	if flag.Lookup("test.v") == nil {
		go func() {
			if err := telemetry.StartMetricsServer(cfg.MetricsPort); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to start metrics server: %v\n", err)
			}
		}()
	}

	return cfg
}
