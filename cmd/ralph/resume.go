package main

import (
	"fmt"
	"os"

	"github.com/ralphcore/ralphcore/internal/app"
	"github.com/ralphcore/ralphcore/internal/sessionstore"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previously interrupted session",
	Run:   runResume,
}

func runResume(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	a, err := app.Build(cfg, repoDir, tasksFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}

	snap, err := a.Store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load session: %v\n", err)
		exit(1)
		return
	}
	if snap == nil {
		fmt.Fprintln(os.Stderr, "No prior session found; use 'ralph run' to start one.")
		exit(1)
		return
	}

	summary, err := a.Store.DetectAndRecover(snap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to recover session: %v\n", err)
		exit(1)
		return
	}
	if summary.Recovered {
		fmt.Printf("Recovered from a stale lock: cleared %d worker(s), reset %d merge(s), cleared %d active task(s)\n",
			len(summary.ClearedWorkers), len(summary.ResetMergeIDs), len(summary.ClearedTaskIDs))
	}

	a.RestoreMergedSet(snap.CompletedTasks)
	a.RestoreQueue(snap.MergeQueue)

	snap.Status = sessionstore.StatusRunning
	if err := a.Store.Save(snap); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to persist resumed session: %v\n", err)
		exit(1)
		return
	}
	if err := a.Store.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to acquire session lock: %v\n", err)
		exit(1)
		return
	}
	defer a.Store.ReleaseLock()

	driveSession(a, snap.SessionID)
}
