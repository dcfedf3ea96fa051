package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ralphcore/ralphcore/internal/sessionstore"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run non-mutating sanity checks against the working base dir, git, and session file",
	Run:   runDoctor,
}

type checkResult struct {
	name string
	ok   bool
	note string
}

func runDoctor(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	var results []checkResult
	results = append(results, checkWritableDir(cfg.Pool.WorktreeDir))
	results = append(results, checkGitBinary())
	results = append(results, checkSessionFile(filepath.Join(cfg.OutputDir, "session.json")))

	failed := false
	for _, r := range results {
		status := "ok"
		if !r.ok {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("[%s] %s: %s\n", status, r.name, r.note)
	}
	if failed {
		exit(1)
	}
}

func checkWritableDir(dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{"working base dir", false, err.Error()}
	}
	probe := filepath.Join(dir, ".ralph-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return checkResult{"working base dir", false, fmt.Sprintf("not writable: %v", err)}
	}
	os.Remove(probe)
	return checkResult{"working base dir", true, dir}
}

func checkGitBinary() checkResult {
	path, err := exec.LookPath("git")
	if err != nil {
		return checkResult{"git binary", false, "not found on PATH"}
	}
	return checkResult{"git binary", true, path}
}

func checkSessionFile(path string) checkResult {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return checkResult{"session file", true, "none yet (ralph run has not been started)"}
	}
	store := sessionstore.New(path)
	snap, err := store.Load()
	if err != nil {
		return checkResult{"session file", false, err.Error()}
	}
	if snap == nil {
		return checkResult{"session file", false, "present but could not be parsed"}
	}
	return checkResult{"session file", true, fmt.Sprintf("status=%s iteration=%d", snap.Status, snap.Iteration)}
}
