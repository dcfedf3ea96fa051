package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ralphcore/ralphcore/internal/app"
	"github.com/ralphcore/ralphcore/internal/sessionstore"

	"github.com/spf13/cobra"
)

var refineryJSON bool
var mergeNextDryRun bool

var refineryCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Inspect and drive the merge refinery",
}

var refineryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the refinery is consuming the merge queue",
	Run:   runRefineryStatus,
}

var refineryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every merge request currently in the queue",
	Run:   runRefineryList,
}

var refineryMergeNextCmd = &cobra.Command{
	Use:   "merge-next",
	Short: "Process the next queued merge request",
	Run:   runRefineryMergeNext,
}

func init() {
	refineryCmd.PersistentFlags().BoolVar(&refineryJSON, "json", false, "print output as JSON")
	refineryMergeNextCmd.Flags().BoolVar(&mergeNextDryRun, "dry-run", false, "print what would be processed without mutating the queue")

	refineryCmd.AddCommand(refineryStatusCmd)
	refineryCmd.AddCommand(refineryListCmd)
	refineryCmd.AddCommand(refineryMergeNextCmd)
}

func runRefineryStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	path := filepath.Join(cfg.OutputDir, "session.json")
	store := sessionstore.New(path)

	snap, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}
	if snap == nil {
		fmt.Println("No active session.")
		return
	}

	merging := 0
	queued := 0
	for _, mr := range snap.MergeQueue {
		switch mr.Status {
		case "merging":
			merging++
		case "queued":
			queued++
		}
	}

	if refineryJSON {
		data, _ := json.MarshalIndent(map[string]any{
			"sessionStatus": snap.Status,
			"queued":        queued,
			"merging":       merging,
			"total":         len(snap.MergeQueue),
		}, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("session=%s queued=%d merging=%d total=%d\n", snap.Status, queued, merging, len(snap.MergeQueue))
}

func runRefineryList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	path := filepath.Join(cfg.OutputDir, "session.json")
	store := sessionstore.New(path)

	snap, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}
	if snap == nil {
		if refineryJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No active session.")
		}
		return
	}

	entries := append([]sessionstore.MergeRequestState(nil), snap.MergeQueue...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Priority < entries[j].Priority })

	if refineryJSON {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return
	}
	for _, mr := range entries {
		fmt.Printf("%s\tbranch=%s\ttask=%s\tstatus=%s\tpriority=%d\tretries=%d\n",
			mr.ID, mr.Branch, mr.TaskID, mr.Status, mr.Priority, mr.RetryCount)
	}
}

func runRefineryMergeNext(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	a, err := app.Build(cfg, repoDir, tasksFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}

	snap, err := a.Store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
		return
	}
	if snap == nil {
		fmt.Println("No active session.")
		return
	}
	a.RestoreQueue(snap.MergeQueue)

	if mergeNextDryRun {
		next := a.Queue.Peek()
		if next == nil {
			fmt.Println("Queue is empty; nothing would be processed.")
			return
		}
		fmt.Printf("Would process: %s branch=%s task=%s priority=%d unblockCount=%d\n",
			next.ID, next.Branch, next.TaskID, next.Priority, next.UnblockCount)
		return
	}

	a.Refinery.ProcessNext(cmd.Context())
	fmt.Println("Processed next merge request (if any was queued).")
}
