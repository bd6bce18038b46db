package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/logging"
)

// Compile-time check that ClaudeAgent implements Agent.
var _ Agent = (*ClaudeAgent)(nil)

// maxDryRunPromptLen is the maximum number of bytes shown inline in the
// DryRunCommand output before the prompt is truncated with "...".
const maxDryRunPromptLen = 120

// ClaudeAgent executes prompts via the Claude Code CLI in stream-json mode.
// When the configuration asks for containerized runs and the orchestrator is
// not itself inside a container, the command is wrapped in docker run with
// the workspace mounted.
type ClaudeAgent struct {
	cfg config.AgentConfig
}

// NewClaudeAgent creates a ClaudeAgent with the given configuration.
func NewClaudeAgent(cfg config.AgentConfig) *ClaudeAgent {
	return &ClaudeAgent{cfg: cfg}
}

// Name returns the agent identifier "claude".
func (c *ClaudeAgent) Name() string { return "claude" }

// CheckPrerequisites verifies the agent CLI (or docker, for containerized
// runs) can be found on PATH.
func (c *ClaudeAgent) CheckPrerequisites() error {
	if c.containerized() {
		if _, err := exec.LookPath("docker"); err != nil {
			return fmt.Errorf("docker not found on PATH (required for containerized agent runs): %w", err)
		}
		return nil
	}
	cmd := c.command()
	if _, err := exec.LookPath(cmd); err != nil {
		return fmt.Errorf("agent CLI not found (looked for %q): %w", cmd, err)
	}
	return nil
}

// Run executes the prompt and returns the captured output, exit code, and
// duration. Stdout is decoded as JSONL in real time; typed StreamEvent
// values are forwarded to opts.StreamEvents with non-blocking sends. The
// full stdout is still captured in RunResult.Stdout so the outcome can be
// re-parsed afterwards.
func (c *ClaudeAgent) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	start := time.Now()

	name, args, err := c.resolveCommand(ctx, opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	cmd.Env = append(os.Environ(), opts.Env...)
	setProcGroup(cmd)

	logging.New("agent").Debug("running agent", "command", name, "work_dir", opts.WorkDir)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	var (
		stdoutBuf bytes.Buffer
		stderrBuf bytes.Buffer
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		// TeeReader lets stdoutBuf capture everything while the decoder
		// reads the same byte stream. This goroutine owns the pipe read.
		decoder := NewStreamDecoder(io.TeeReader(stdoutPipe, &stdoutBuf))
		for {
			event, err := decoder.Next()
			if err != nil {
				break
			}
			if opts.StreamEvents != nil {
				select {
				case opts.StreamEvents <- *event:
				default:
				}
			}
		}
		// Drain whatever the decoder did not consume (non-JSON trailers).
		_, _ = io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = stderrBuf.ReadFrom(stderrPipe)
	}()

	if err := cmd.Start(); err != nil {
		wg.Wait()
		return nil, fmt.Errorf("starting agent: %w", err)
	}

	wg.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == nil {
			return nil, fmt.Errorf("waiting for agent: %w", waitErr)
		} else {
			exitCode = -1
		}
	}

	return &RunResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}, nil
}

// DryRunCommand returns the command string that would be executed. Long
// prompts are truncated.
func (c *ClaudeAgent) DryRunCommand(opts RunOpts) string {
	prompt := opts.Prompt
	if len(prompt) > maxDryRunPromptLen {
		prompt = prompt[:maxDryRunPromptLen] + "..."
	}
	args := append(c.baseArgs(), prompt)
	if c.containerized() {
		return "docker run ... " + c.cfg.Image + " " + c.command() + " " + strings.Join(args, " ")
	}
	return c.command() + " " + strings.Join(args, " ")
}

func (c *ClaudeAgent) command() string {
	if c.cfg.Command != "" {
		return c.cfg.Command
	}
	return "claude"
}

// containerized reports whether the agent command should be wrapped in
// docker run. Inside a container (detected via /.dockerenv) the command
// runs directly.
func (c *ClaudeAgent) containerized() bool {
	if !c.cfg.Containerized {
		return false
	}
	_, err := os.Stat("/.dockerenv")
	return os.IsNotExist(err)
}

func (c *ClaudeAgent) baseArgs() []string {
	return []string{
		"--dangerously-skip-permissions",
		"--print",
		"--verbose",
		"--output-format", "stream-json",
	}
}

// resolveCommand returns the executable and argument list for this run,
// wrapping in docker run when containerized. The image is built on demand.
func (c *ClaudeAgent) resolveCommand(ctx context.Context, opts RunOpts) (string, []string, error) {
	base := append([]string{c.command()}, c.baseArgs()...)
	base = append(base, opts.Prompt)

	if !c.containerized() {
		return base[0], base[1:], nil
	}

	if err := EnsureImage(ctx, c.cfg.Image); err != nil {
		return "", nil, err
	}

	name, email := config.ResolveGitIdentity(c.cfg, nil)
	args := dockerRunArgs(c.cfg, opts, name, email)
	args = append(args, base...)
	return "docker", args, nil
}
