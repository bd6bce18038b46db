package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/droverhq/drover/internal/workflow"
)

// CycleError reports a dependency cycle. Fatal at startup.
type CycleError struct {
	Cycle []string // story IDs along the cycle, in order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// ValidateGraph checks the story dependency graph: every referenced
// dependency must exist and the graph must be acyclic. All unknown-reference
// violations are enumerated; a cycle is reported with its trace.
func ValidateGraph(st *workflow.State) error {
	var unknown []string
	for _, id := range sortedStoryIDs(st) {
		for _, dep := range st.Stories[id].DependsOn {
			if _, ok := st.Stories[dep]; !ok {
				unknown = append(unknown, fmt.Sprintf("story %s depends on unknown story %s", id, dep))
			}
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("invalid dependency graph: %s", strings.Join(unknown, "; "))
	}

	// Kahn's algorithm; whatever cannot be peeled off sits on a cycle.
	indegree := make(map[string]int, len(st.Stories))
	dependents := make(map[string][]string)
	for id, story := range st.Stories {
		indegree[id] += 0
		for _, dep := range story.DependsOn {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(st.Stories) {
		return nil
	}

	remaining := make(map[string]bool)
	for id, deg := range indegree {
		if deg > 0 {
			remaining[id] = true
		}
	}
	return &CycleError{Cycle: traceCycle(st, remaining)}
}

// traceCycle walks DependsOn edges within the remaining set until a node
// repeats, then returns the closed loop starting and ending at that node.
func traceCycle(st *workflow.State, remaining map[string]bool) []string {
	var start string
	for _, id := range sortedStoryIDs(st) {
		if remaining[id] {
			start = id
			break
		}
	}

	seen := make(map[string]int)
	var path []string
	current := start
	for {
		if at, ok := seen[current]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := ""
		deps := append([]string{}, st.Stories[current].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen: every remaining node has a remaining dependency.
			return path
		}
		current = next
	}
}

// FindAssignable returns the stories a worker slot may claim, in sorted ID
// order: unclaimed stories whose dependencies are all completed in this
// snapshot, plus orphaned in_progress stories (no assigned worker) left
// behind by reconciliation.
func FindAssignable(st *workflow.State) []*workflow.Story {
	var out []*workflow.Story
	for _, id := range sortedStoryIDs(st) {
		story := st.Stories[id]
		switch story.Status {
		case workflow.StoryUnclaimed:
			if depsCompleted(st, story) {
				out = append(out, story)
			}
		case workflow.StoryInProgress:
			if story.WorkerID == nil {
				out = append(out, story)
			}
		}
	}
	return out
}

func depsCompleted(st *workflow.State, story *workflow.Story) bool {
	for _, dep := range story.DependsOn {
		d, ok := st.Stories[dep]
		if !ok || d.Status != workflow.StoryCompleted {
			return false
		}
	}
	return true
}

// BlockDependents moves every story that depends, directly or transitively,
// on failedID from unclaimed to blocked. Returns the IDs moved.
func BlockDependents(st *workflow.State, failedID string) []string {
	dependents := make(map[string][]string)
	for id, story := range st.Stories {
		for _, dep := range story.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var blocked []string
	queue := []string{failedID}
	visited := map[string]bool{failedID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next := append([]string{}, dependents[current]...)
		sort.Strings(next)
		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true
			if story := st.Stories[id]; story.Status == workflow.StoryUnclaimed {
				story.Status = workflow.StoryBlocked
				blocked = append(blocked, id)
			}
			queue = append(queue, id)
		}
	}
	return blocked
}

// ReevaluateBlocked returns blocked stories to the unclaimed pool when no
// dependency of theirs, direct or transitive, is failed anymore. Handles the
// manual-intervention path where a failed story is re-completed.
func ReevaluateBlocked(st *workflow.State) []string {
	var unblocked []string
	for _, id := range sortedStoryIDs(st) {
		story := st.Stories[id]
		if story.Status != workflow.StoryBlocked {
			continue
		}
		if !anyDepFailed(st, story, make(map[string]bool)) {
			story.Status = workflow.StoryUnclaimed
			unblocked = append(unblocked, id)
		}
	}
	return unblocked
}

func anyDepFailed(st *workflow.State, story *workflow.Story, visited map[string]bool) bool {
	for _, dep := range story.DependsOn {
		if visited[dep] {
			continue
		}
		visited[dep] = true
		d, ok := st.Stories[dep]
		if !ok {
			return true
		}
		if d.Status == workflow.StoryFailed {
			return true
		}
		if anyDepFailed(st, d, visited) {
			return true
		}
	}
	return false
}

func sortedStoryIDs(st *workflow.State) []string {
	ids := make([]string, 0, len(st.Stories))
	for id := range st.Stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
