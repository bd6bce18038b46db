package agent

import (
	"context"
	"fmt"
	"time"
)

// Compile-time check that MockAgent implements Agent.
var _ Agent = (*MockAgent)(nil)

// MockAgent is a configurable mock implementation of Agent for testing.
// It records all Run calls and supports custom behavior via RunFunc.
type MockAgent struct {
	// AgentName is the value returned by Name().
	AgentName string

	// RunFunc is an optional custom function called by Run. If nil, Run
	// returns a default success result.
	RunFunc func(ctx context.Context, opts RunOpts) (*RunResult, error)

	// PrereqError is the error returned by CheckPrerequisites.
	PrereqError error

	// Calls records every set of RunOpts passed to Run, in order.
	Calls []RunOpts
}

// NewMockAgent creates a MockAgent with the given name and default behavior.
func NewMockAgent(name string) *MockAgent {
	return &MockAgent{AgentName: name}
}

func (m *MockAgent) Name() string { return m.AgentName }

// Run records the call and delegates to RunFunc if set, otherwise returns a
// default success result whose stdout carries a minimal result event.
func (m *MockAgent) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	m.Calls = append(m.Calls, opts)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, opts)
	}
	return &RunResult{
		Stdout:   `{"type":"result","subtype":"success","result":"mock output","num_turns":1}` + "\n",
		ExitCode: 0,
		Duration: 100 * time.Millisecond,
	}, nil
}

func (m *MockAgent) CheckPrerequisites() error { return m.PrereqError }

func (m *MockAgent) DryRunCommand(opts RunOpts) string {
	return fmt.Sprintf("mock-agent --prompt %q", opts.Prompt)
}

// WithRunFunc sets a custom Run function and returns the receiver.
func (m *MockAgent) WithRunFunc(fn func(ctx context.Context, opts RunOpts) (*RunResult, error)) *MockAgent {
	m.RunFunc = fn
	return m
}
