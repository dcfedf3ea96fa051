// Package iterationlog writes the per-iteration transcript files under
// .ralph-tui/iterations/ (spec §6). Grounded on the teacher's
// internal/runner/session_manager.go full-file-rewrite style for
// persisted artifacts, generalized from a single JSON document to a
// per-iteration markdown-headed transcript.
package iterationlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// Sanitize replaces path-unsafe characters in a task identifier with "-"
// for safe use in a filename.
func Sanitize(taskID string) string {
	return unsafeChars.ReplaceAllString(taskID, "-")
}

// Entry is everything needed to render one iteration's log file.
type Entry struct {
	Iteration       int
	TaskID          string
	Title           string
	Description     string
	Status          string
	TaskCompleted   bool
	PromiseDetected bool
	Started         time.Time
	Ended           time.Time
	Error           string
	Agent           string
	Model           string
	Epic            string
	Stdout          string
	Stderr          string
}

const descriptionMax = 200

func truncateDescription(desc string) string {
	if len(desc) <= descriptionMax {
		return desc
	}
	return desc[:descriptionMax] + "..."
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func optional(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Render builds the full markdown-headed transcript for e.
func Render(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **Iteration**: %d\n", e.Iteration)
	fmt.Fprintf(&b, "- **Task ID**: %s\n", e.TaskID)
	fmt.Fprintf(&b, "- **Title**: %s\n", e.Title)
	fmt.Fprintf(&b, "- **Description**: %s\n", truncateDescription(e.Description))
	fmt.Fprintf(&b, "- **Status**: %s\n", e.Status)
	fmt.Fprintf(&b, "- **Task Completed**: %s\n", yesNo(e.TaskCompleted))
	fmt.Fprintf(&b, "- **Promise Detected**: %s\n", yesNo(e.PromiseDetected))
	fmt.Fprintf(&b, "- **Started**: %s\n", e.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Ended**: %s\n", e.Ended.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration**: %s\n", e.Ended.Sub(e.Started).Round(time.Millisecond))
	fmt.Fprintf(&b, "- **Error**: %s\n", optional(e.Error))
	fmt.Fprintf(&b, "- **Agent**: %s\n", optional(e.Agent))
	fmt.Fprintf(&b, "- **Model**: %s\n", optional(e.Model))
	fmt.Fprintf(&b, "- **Epic**: %s\n", optional(e.Epic))
	b.WriteString("\n--- RAW OUTPUT ---\n")
	b.WriteString(e.Stdout)
	if e.Stderr != "" {
		b.WriteString("\n--- STDERR ---\n")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

// FileName returns the iteration-{NNN}-{sanitized-taskId}.log name for e.
func FileName(e Entry) string {
	return fmt.Sprintf("iteration-%03d-%s.log", e.Iteration, Sanitize(e.TaskID))
}

// Writer persists iteration transcripts under a fixed base directory.
type Writer struct {
	dir string
}

// New returns a Writer rooted at dir (typically .ralph-tui/iterations).
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write renders and saves e's transcript, creating the base directory if
// needed. Returns the path written.
func (w *Writer) Write(e Entry) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("iterationlog: create dir: %w", err)
	}
	path := filepath.Join(w.dir, FileName(e))
	if err := os.WriteFile(path, []byte(Render(e)), 0o644); err != nil {
		return "", fmt.Errorf("iterationlog: write: %w", err)
	}
	return path, nil
}
