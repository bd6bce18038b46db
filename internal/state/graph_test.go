package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/workflow"
)

func graphState(deps map[string][]string) *workflow.State {
	st := &workflow.State{
		Version: workflow.StateVersion,
		Stories: make(map[string]*workflow.Story),
	}
	for id, dep := range deps {
		st.Stories[id] = &workflow.Story{
			ID:        id,
			Status:    workflow.StoryUnclaimed,
			DependsOn: dep,
			Steps:     workflow.DefaultWorkflow(),
		}
	}
	return st
}

func TestValidateGraph_Acyclic(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": {"A", "B"},
	})
	assert.NoError(t, ValidateGraph(st))
}

func TestValidateGraph_UnknownDependency(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": {"ghost"},
		"B": {"phantom"},
	})
	err := ValidateGraph(st)
	require.Error(t, err)
	// Every unknown reference is enumerated.
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
}

func TestValidateGraph_CycleWithTrace(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": {"C"},
		"B": {"A"},
		"C": {"B"},
		"D": nil,
	})
	err := ValidateGraph(st)
	require.Error(t, err)

	var cErr *CycleError
	require.ErrorAs(t, err, &cErr)
	// The trace is a closed loop over exactly the cyclic stories.
	require.GreaterOrEqual(t, len(cErr.Cycle), 4)
	assert.Equal(t, cErr.Cycle[0], cErr.Cycle[len(cErr.Cycle)-1])
	assert.NotContains(t, cErr.Cycle, "D")
}

func TestValidateGraph_SelfDependency(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{"A": {"A"}})
	var cErr *CycleError
	require.ErrorAs(t, ValidateGraph(st), &cErr)
	assert.Equal(t, []string{"A", "A"}, cErr.Cycle)
}

func TestFindAssignable(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": nil,
	})
	st.Stories["C"].Status = workflow.StoryInProgress
	st.Stories["C"].WorkerID = workflow.IntPtr(1)

	ids := assignableIDs(st)
	assert.Equal(t, []string{"A"}, ids)

	st.Stories["A"].Status = workflow.StoryCompleted
	assert.Equal(t, []string{"B"}, assignableIDs(st))
}

func TestFindAssignable_OrphanedInProgress(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": nil,
	})
	// A was claimed when the orchestrator crashed; reconciliation cleared
	// its worker but left it in_progress.
	st.Stories["A"].Status = workflow.StoryInProgress
	st.Stories["B"].Status = workflow.StoryInProgress
	st.Stories["B"].WorkerID = workflow.IntPtr(2)

	assert.Equal(t, []string{"A"}, assignableIDs(st))
}

func assignableIDs(st *workflow.State) []string {
	var ids []string
	for _, s := range FindAssignable(st) {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestBlockDependents_Transitive(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": {"B"},
		"D": nil,
	})
	st.Stories["A"].Status = workflow.StoryFailed

	blocked := BlockDependents(st, "A")
	assert.Equal(t, []string{"B", "C"}, blocked)
	assert.Equal(t, workflow.StoryBlocked, st.Stories["B"].Status)
	assert.Equal(t, workflow.StoryBlocked, st.Stories["C"].Status)
	assert.Equal(t, workflow.StoryUnclaimed, st.Stories["D"].Status)
}

func TestBlockDependents_SkipsActiveStories(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": {"A"},
	})
	st.Stories["A"].Status = workflow.StoryFailed
	st.Stories["B"].Status = workflow.StoryInProgress

	blocked := BlockDependents(st, "A")
	assert.Empty(t, blocked)
	assert.Equal(t, workflow.StoryInProgress, st.Stories["B"].Status)
}

func TestReevaluateBlocked_AfterManualRecompletion(t *testing.T) {
	t.Parallel()

	st := graphState(map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": {"B"},
	})
	st.Stories["A"].Status = workflow.StoryFailed
	BlockDependents(st, "A")
	require.Equal(t, workflow.StoryBlocked, st.Stories["B"].Status)

	// Nothing changes while the dependency is still failed.
	assert.Empty(t, ReevaluateBlocked(st))

	// Manual intervention re-completes A; dependents re-enter the pool.
	st.Stories["A"].Status = workflow.StoryCompleted
	unblocked := ReevaluateBlocked(st)
	assert.Equal(t, []string{"B", "C"}, unblocked)
	assert.Equal(t, workflow.StoryUnclaimed, st.Stories["B"].Status)
	assert.Equal(t, workflow.StoryUnclaimed, st.Stories["C"].Status)
}
