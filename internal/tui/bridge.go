package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/state"
)

// pollInterval is how often the story table is refreshed from the state
// document.
const pollInterval = 500 * time.Millisecond

// waitForStream returns a command that reads a single agent stream event.
// Re-issue it from Update after each StreamMsg to keep draining the channel.
// The command yields nil when the channel is closed or the context is done.
func waitForStream(ctx context.Context, ch <-chan agent.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			return StreamMsg{Event: ev}
		}
	}
}

// waitForProgress reads a single scheduler progress line.
func waitForProgress(ctx context.Context, ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			return ProgressMsg{Line: line}
		}
	}
}

// waitForDone reads the scheduler's terminal result.
func waitForDone(ctx context.Context, ch <-chan DoneResult) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-ch:
			if !ok {
				return nil
			}
			return DoneMsg{Summary: res.Summary, Err: res.Err}
		}
	}
}

// DoneResult is the scheduler outcome delivered to the dashboard.
type DoneResult struct {
	Summary *scheduler.Summary
	Err     error
}

// scheduleTick requests the next state poll.
func scheduleTick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// loadState reads the state document off the Update loop. Load failures are
// swallowed: the state file is mid-rename for a moment during every update
// and the next tick will succeed.
func loadState(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		st, err := store.Load()
		if err != nil {
			return nil
		}
		return StateMsg{State: st}
	}
}
