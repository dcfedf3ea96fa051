// Package agentrun launches an external coding-agent CLI as a subprocess,
// streams its output, and honors interruption, grounded on the teacher's
// internal/agent CLI clients (gemini_cli.go, opencode_cli.go) generalized
// from request/response to long-running, streamed, interruptible execution
// (spec §4.3).
package agentrun

import "context"

// Metadata describes what an agent capability supports.
type Metadata struct {
	ID                      string
	SupportsStreaming       bool
	SupportsInterrupt       bool
	SupportsSubagentTracing bool
	StructuredOutputFormat  string
}

// ExecuteOptions configures one invocation.
type ExecuteOptions struct {
	Cwd             string
	Timeout         int64 // milliseconds; 0 means no deadline
	Flags           []string
	OnStdout        func(chunk string)
	OnStderr        func(chunk string)
	SubagentTracing bool
	OnSubagentEvent func(raw string)
}

// ExecuteResult is the outcome of a completed or interrupted invocation.
type ExecuteResult struct {
	ExitCode    int
	Interrupted bool
	Status      string // "completed" | "failed"
	Error       string
	Stdout      string
	Stderr      string
}

// Handle represents an in-flight or completed agent invocation. Wait
// always returns, even for agent failures; it never carries a
// programmer-facing error.
type Handle interface {
	Wait() ExecuteResult
	Interrupt()
}

// Capability is the external contract a coding-agent CLI must satisfy.
// Detect and Execute never panic; CLI absence or a nonzero exit surfaces
// through the returned values.
type Capability interface {
	Metadata() Metadata
	Initialize(config map[string]string) error
	Detect(ctx context.Context) (available bool, version string, err error)
	Execute(ctx context.Context, prompt string, files []string, opts ExecuteOptions) Handle
}
