package executor

import (
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/workflow"
)

// kindInstructions holds the fixed instruction block for each step kind.
// Every block ends by asking for a SUMMARY section, which becomes the
// step's completion notes.
var kindInstructions = map[workflow.StepKind]string{
	workflow.KindContextGathering: `## Step: Context Gathering

**You receive:** Story description, acceptance criteria, global scratch file, story scratch file.
**You produce:** Context summary listing: relevant files with paths, data models and schemas, existing patterns, related tests, current behavior.

### Instructions
- Pure exploration: read code, grep for patterns, check models and schemas.
- Do NOT make decisions or plan. Just gather context.
- Write all findings to your story scratch file.
- Identify: target files, related models, existing test patterns, current behavior.

### Exit Criteria
All areas relevant to the story are identified and documented.

End your response with a SUMMARY section (3-5 lines) capturing key findings.`,

	workflow.KindPlanning: `## Step: Planning

**You receive:** Notes from context_gathering, story acceptance criteria, scratch files.
**You produce:** Implementation plan: what to change, in what order, which approach, which files.

### Instructions
- Focus on decision-making based on gathered context.
- If the story is more complex than a single coding round, use workflow editing to split or add steps.
- For simple stories, skip unnecessary steps (e.g., skip test_architecture for config-only work).
- Write the plan to your story scratch file.

### Exit Criteria
Plan covers all acceptance criteria; files to modify are identified.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindArchitecture: `## Step: Architecture

**You receive:** Notes from context_gathering and planning, scratch files.
**You produce:** Architecture notes: new or modified files, schema changes, migration needs, dependency direction, layer boundary compliance.

### Instructions
- Design the technical structure.
- Verify it respects the project's existing layering and import direction.
- If a migration is needed, note it explicitly.
- May add or split coding steps via workflow editing.

### Exit Criteria
All structural decisions documented; import dependencies verified.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindTestArchitecture: `## Step: Test Architecture

**You receive:** Notes from architecture, existing test patterns, scratch files.
**You produce:** Test plan: test files, key scenarios, fixtures needed, edge cases.

### Instructions
- Design tests independently from implementation.
- Cover all acceptance criteria.
- Identify which fixtures exist and which need creation.
- Your test plan will be used by the coding step.

### Exit Criteria
Test plan covers all acceptance criteria; fixture requirements identified.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindCoding: `## Step: Coding

**You receive:** Notes from architecture and test_architecture, story scratch file.
**You produce:** Modified or created files committed to git.

### Instructions
- Implement production code and tests according to the plans from prior steps.
- Commit your changes with a descriptive message.
- If you discover unexpected complexity, use workflow editing to add steps.

### Exit Criteria
All planned changes implemented; the project builds without error.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindLinting: `## Step: Linting

**You receive:** Current codebase state.
**You produce:** Clean lint and format pass, fixes committed.

### Instructions
- Run the project's formatters and lint checks.
- Fix any issues found and re-run until clean.
- Commit fixes with message "style: fix lint issues".

### Exit Criteria
Lint and format checks pass with zero issues.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindInitialTesting: `## Step: Initial Testing

**You receive:** Notes from test_architecture, current codebase.
**You produce:** Test results with pass/fail per test, categorized failures if any.

### Instructions
- Run the project's test suite.
- If tests fail, categorize root causes.
- Use workflow editing to add a coding, linting, initial_testing fix cycle if needed.

### Exit Criteria
All relevant tests executed; failures documented with root causes.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindReview: `## Step: Review

**You receive:** All prior step notes, acceptance criteria, test results, scratch files.
**You produce:** Review notes verifying each acceptance criterion with specific code references.

### Instructions
- For each acceptance criterion, cite the specific file and line that implements it.
- If you cannot cite a specific location, the criterion is NOT met: flag it.
- Check error handling, edge cases, and layer boundaries.
- If issues are found, use workflow editing to add fix steps.

### Exit Criteria
All acceptance criteria verified; no obvious issues remain.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindPruneTests: `## Step: Prune Tests

**You receive:** Current test suite, all prior step notes.
**You produce:** Pruned test files committed.

### Instructions
- Remove tests that duplicate coverage or test implementation details rather than behavior.
- Justify each removal.
- Do NOT remove tests that cover distinct edge cases or acceptance criteria.
- Commit removals.

### Exit Criteria
No redundant tests remain; coverage of acceptance criteria preserved.

End your response with a SUMMARY section (3-5 lines).`,

	workflow.KindFinalReview: `## Step: Final Review

**You receive:** All prior step notes, full story context, scratch files.
**You produce:** Final verification that everything passes, clean final commit.

### Instructions
- Run lint checks and verify they pass.
- Run the test suite and verify it passes.
- Verify ALL acceptance criteria are met: cite file and line for each.
- If issues are found, add fix steps before this step via workflow editing; they will run before this step re-executes.
- Create a clean final commit summarizing the story's changes.

### Exit Criteria
All acceptance criteria pass; tests pass; lint passes; commit is clean.

End your response with a SUMMARY section (3-5 lines).`,
}

// ComposePrompt assembles the full prompt for one step invocation: story
// context, the kind's instruction block, the current step description
// (possibly customized by earlier edits), notes from completed prior steps
// in sequence order, both scratch files, and the workflow-editing contract
// when the kind allows it.
func ComposePrompt(story *workflow.Story, step *workflow.Step, globalScratch, storyScratch, editPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Story: %s\n", story.Title)
	fmt.Fprintf(&b, "\n**Story ID:** %s\n", story.ID)
	desc := story.Description
	if desc == "" {
		desc = story.Title
	}
	fmt.Fprintf(&b, "\n**Description:**\n%s\n", desc)

	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("\n**Acceptance Criteria:**\n")
		for _, criterion := range story.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", criterion)
		}
	}

	if instructions, ok := kindInstructions[step.Kind]; ok {
		fmt.Fprintf(&b, "\n---\n\n%s\n", instructions)
	}

	if step.Description != "" {
		fmt.Fprintf(&b, "\n**Current step task:** %s\n", step.Description)
	}

	if notes := priorNotes(story, step); notes != "" {
		b.WriteString("\n---\n\n## Context from Prior Steps\n\n")
		b.WriteString(notes)
	}

	if s := strings.TrimSpace(globalScratch); s != "" {
		b.WriteString("\n---\n\n## Global Scratch (shared across stories)\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(storyScratch); s != "" {
		fmt.Fprintf(&b, "\n---\n\n## Story Scratch (%s)\n\n%s\n", story.ID, s)
	}

	if workflow.AllowsEditing(step.Kind) {
		b.WriteString("\n---\n\n## Workflow Editing\n\n")
		fmt.Fprintf(&b,
			"To modify remaining steps, write a JSON file to `%s`.\n"+
				"Supported operations: add_after, split, skip, reorder, edit_description, restart.\n"+
				"See the step instructions above for when to use editing.\n",
			editPath)
	}

	return b.String()
}

// priorNotes collects the notes of all completed steps before the current
// one, in sequence order.
func priorNotes(story *workflow.Story, current *workflow.Step) string {
	var b strings.Builder
	for _, step := range story.Steps {
		if step.ID == current.ID {
			break
		}
		if step.Status == workflow.StepCompleted && step.Notes != nil && *step.Notes != "" {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", step.Kind, step.ID, *step.Notes)
		}
	}
	return b.String()
}

// ExtractSummary pulls the SUMMARY section out of an agent's final
// response: everything after a line whose heading starts with "SUMMARY"
// (case-insensitive, markdown markers stripped). Returns "" when no
// summary is present.
func ExtractSummary(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		normalized := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if !strings.HasPrefix(strings.ToUpper(normalized), "SUMMARY") {
			continue
		}
		if rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n")); rest != "" {
			return rest
		}
		// The header line itself may carry the summary after a colon.
		return strings.TrimSpace(strings.TrimLeft(normalized[len("SUMMARY"):], ": "))
	}
	return ""
}
