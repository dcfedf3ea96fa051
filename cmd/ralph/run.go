package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ralphcore/ralphcore/internal/app"
	"github.com/ralphcore/ralphcore/internal/sessionstore"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new session and drive tasks to completion",
	Run:   runRun,
}

func runRun(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	a, err := app.Build(cfg, repoDir, tasksFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}

	sessionID := uuid.NewString()
	if _, err := a.Store.Create(sessionID, "parallel", cfg.MaxIterations, cfg.Pool.MaxWorkers, a.RateLimits.Chain(), nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create session: %v\n", err)
		exit(1)
		return
	}
	defer a.Store.ReleaseLock()

	driveSession(a, sessionID)
}

// driveSession starts the refinery and dispatcher loops, periodically
// persisting a session snapshot, until interrupted.
func driveSession(a *app.App, sessionID string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Refinery.Start()

	go a.Pool.Run(ctx)

	persistTicker := time.NewTicker(5 * time.Second)
	defer persistTicker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			a.Refinery.Stop()
			a.Pool.Stop(context.Background())
			snap := a.Snapshot(sessionID, iteration)
			snap.Status = sessionstore.StatusInterrupted
			_ = a.Store.Save(snap)
			return
		case <-persistTicker.C:
			iteration++
			snap := a.Snapshot(sessionID, iteration)
			_ = a.Store.Save(snap)
		}
	}
}
