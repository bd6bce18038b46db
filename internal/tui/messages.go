package tui

import (
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/workflow"
)

// StateMsg carries a freshly loaded state snapshot for the story table.
type StateMsg struct {
	State *workflow.State
}

// StreamMsg carries one decoded agent stream event for the event feed.
type StreamMsg struct {
	Event agent.StreamEvent
}

// ProgressMsg carries one scheduler progress line.
type ProgressMsg struct {
	Line string
}

// DoneMsg signals that the scheduler finished.
type DoneMsg struct {
	Summary *scheduler.Summary
	Err     error
}

type tickMsg time.Time
