package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralphcore/ralphcore/internal/sessionstore"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var statusJSON bool
var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session's scheduler, worker, and queue state",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "re-render on every session-file change")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	path := filepath.Join(cfg.OutputDir, "session.json")
	store := sessionstore.New(path)

	render := func() {
		snap, err := store.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		if snap == nil {
			if statusJSON {
				fmt.Println(`{"status":"no-session"}`)
			} else {
				fmt.Println("No active session.")
			}
			return
		}
		if statusJSON {
			printStatusJSON(snap)
		} else {
			printStatusPretty(snap)
		}
	}

	render()
	if !statusWatch {
		return
	}
	watchAndRender(path, render)
}

func printStatusJSON(snap *sessionstore.Snapshot) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func printStatusPretty(snap *sessionstore.Snapshot) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("Session %s [%s]", snap.SessionID, snap.Status)))
	fmt.Printf("%s %d / %d\n", labelStyle.Render("Iteration:"), snap.Iteration, snap.MaxIterations)
	fmt.Printf("%s %d\n", labelStyle.Render("Workers:"), len(snap.Workers))
	for name, w := range snap.Workers {
		fmt.Printf("  - %s task=%s status=%s iteration=%d\n", name, w.TaskID, w.Status, w.Iteration)
	}
	fmt.Printf("%s %d\n", labelStyle.Render("Merge queue:"), len(snap.MergeQueue))
	for _, mr := range snap.MergeQueue {
		fmt.Printf("  - %s branch=%s status=%s retries=%d\n", mr.ID, mr.Branch, mr.Status, mr.RetryCount)
	}
}

// watchAndRender re-renders render whenever the session file at path
// changes, using fsnotify on its containing directory. Falls back to a
// fixed-interval poll if the watch cannot be established.
func watchAndRender(path string, render func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		pollRender(path, render)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		pollRender(path, render)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(path) {
				render()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func pollRender(path string, render func()) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			render()
		}
	}
}
