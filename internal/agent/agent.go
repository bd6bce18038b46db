// Package agent abstracts the external coding-agent CLI behind a common
// contract for prompt execution, streaming observability, and metric
// extraction.
package agent

import (
	"context"
	"time"
)

// Agent is the interface all agent adapters implement.
type Agent interface {
	// Name returns the agent's identifier (e.g., "claude").
	Name() string

	// Run executes a prompt and returns the captured result. The context
	// carries the step timeout; on expiry the subprocess and its whole
	// process group are killed and the result reports TimedOut.
	Run(ctx context.Context, opts RunOpts) (*RunResult, error)

	// CheckPrerequisites verifies that the agent's CLI tool is installed
	// and accessible. Returns an error describing what is missing.
	CheckPrerequisites() error

	// DryRunCommand returns the command string that would be executed,
	// without actually running it.
	DryRunCommand(opts RunOpts) string
}

// RunOpts specifies options for a single agent invocation.
type RunOpts struct {
	Prompt  string   `json:"prompt,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// WorkerID namespaces the containerized agent's compose project so
	// parallel workers do not share infrastructure.
	WorkerID int `json:"worker_id,omitempty"`

	// StreamEvents receives real-time stream events decoded from the
	// agent's JSONL stdout. Sends are non-blocking; slow consumers drop
	// events. The channel is NOT closed by the agent -- the caller owns it.
	StreamEvents chan<- StreamEvent `json:"-"`
}

// RunResult captures the output of an agent invocation.
type RunResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Success returns true if the agent exited with code 0 and did not time out.
func (r *RunResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}
