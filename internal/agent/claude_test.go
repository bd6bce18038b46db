package agent

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/config"
)

func TestClaudeAgent_Name(t *testing.T) {
	t.Parallel()

	a := NewClaudeAgent(config.AgentConfig{})
	assert.Equal(t, "claude", a.Name())
}

func TestClaudeAgent_DryRunCommand(t *testing.T) {
	t.Parallel()

	a := NewClaudeAgent(config.AgentConfig{Command: "claude"})
	cmd := a.DryRunCommand(RunOpts{Prompt: "do the thing"})
	assert.True(t, strings.HasPrefix(cmd, "claude "))
	assert.Contains(t, cmd, "--output-format stream-json")
	assert.Contains(t, cmd, "do the thing")
}

func TestClaudeAgent_DryRunCommand_TruncatesLongPrompt(t *testing.T) {
	t.Parallel()

	a := NewClaudeAgent(config.AgentConfig{})
	cmd := a.DryRunCommand(RunOpts{Prompt: strings.Repeat("x", 500)})
	assert.Contains(t, cmd, "...")
	assert.Less(t, len(cmd), 400)
}

func TestClaudeAgent_RunCapturesStreamOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	t.Parallel()

	// "sh -c" stands in for the agent CLI: it ignores the flags drover
	// passes and emits two stream-json lines.
	a := NewClaudeAgent(config.AgentConfig{Command: "testdata/fake-agent.sh"})
	events := make(chan StreamEvent, 16)

	res, err := a.Run(context.Background(), RunOpts{
		Prompt:       "hello",
		StreamEvents: events,
	})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Contains(t, res.Stdout, `"type":"result"`)

	out := ParseOutcome(res.Stdout)
	assert.Equal(t, "success", out.CompletionStatus)

	// The decoder forwarded events in real time.
	close(events)
	var types []StreamEventType
	for e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, StreamEventResult)
}

func TestClaudeAgent_RunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	t.Parallel()

	a := NewClaudeAgent(config.AgentConfig{Command: "testdata/slow-agent.sh"})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	res, err := a.Run(ctx, RunOpts{Prompt: "hello"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Success())
}

func TestMockAgent_RecordsCalls(t *testing.T) {
	t.Parallel()

	m := NewMockAgent("mock")
	res, err := m.Run(context.Background(), RunOpts{Prompt: "p1"})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "mock output", ParseOutcome(res.Stdout).Notes())

	_, err = m.Run(context.Background(), RunOpts{Prompt: "p2"})
	require.NoError(t, err)
	require.Len(t, m.Calls, 2)
	assert.Equal(t, "p2", m.Calls[1].Prompt)
}
