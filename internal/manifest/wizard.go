package manifest

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

const wizardWidth = 80

// RunWizard collects a starter manifest interactively. Each story page asks
// for the ID, title, description, criteria (one per line) and dependencies
// (comma-separated), then offers to add another.
func RunWizard() (*Manifest, error) {
	m := &Manifest{}

	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project name").
				Value(&m.Project),
			huh.NewText().
				Title("Project description").
				Lines(3).
				Value(&m.Description),
		),
	).WithWidth(wizardWidth).Run(); err != nil {
		return nil, fmt.Errorf("running manifest wizard: %w", err)
	}

	for {
		story, more, err := runStoryPage(len(m.Stories) + 1)
		if err != nil {
			return nil, err
		}
		m.Stories = append(m.Stories, *story)
		if !more {
			break
		}
	}
	return m, nil
}

func runStoryPage(index int) (*Story, bool, error) {
	var (
		criteria string
		deps     string
		more     bool
	)
	story := &Story{ID: fmt.Sprintf("US-%03d", index), Priority: index}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Story %s: ID", story.ID)).
				Value(&story.ID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("id must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Title").
				Value(&story.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title must not be empty")
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Lines(4).
				Value(&story.Description),
			huh.NewText().
				Title("Acceptance criteria (one per line)").
				Lines(4).
				Value(&criteria),
			huh.NewInput().
				Title("Depends on (comma-separated story IDs, optional)").
				Value(&deps),
			huh.NewConfirm().
				Title("Add another story?").
				Value(&more),
		),
	).WithWidth(wizardWidth).Run()
	if err != nil {
		return nil, false, fmt.Errorf("running story page: %w", err)
	}

	story.AcceptanceCriteria = splitLines(criteria)
	story.DependsOn = splitCommas(deps)
	return story, more, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitCommas(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
