// Package manifest loads and validates the story manifest that seeds a run.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/droverhq/drover/internal/workflow"
)

// Story is one entry in the input manifest.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Priority           int      `json:"priority,omitempty"`
	Passes             bool     `json:"passes,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
}

// Manifest is an ordered list of stories, optionally with project metadata.
type Manifest struct {
	Project     string  `json:"project,omitempty"`
	Description string  `json:"description,omitempty"`
	Stories     []Story `json:"stories"`
}

// Load reads a manifest file. Both the wrapped form ({"stories": [...]})
// and a flat story array are accepted.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err == nil && len(m.Stories) > 0 {
		return &m, nil
	}

	var flat []Story
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &Manifest{Stories: flat}, nil
}

// FromRequest builds a single-story manifest from a free-form one-shot
// request string.
func FromRequest(request string) *Manifest {
	return &Manifest{
		Stories: []Story{{
			ID:                 "oneshot",
			Title:              "One-shot request",
			Description:        request,
			AcceptanceCriteria: []string{"The request is fully implemented and verified"},
		}},
	}
}

// Validate checks the manifest and returns every violation, not just the
// first. Manifest problems are fatal at startup.
func (m *Manifest) Validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(m.Stories) == 0 {
		add("manifest contains no stories")
		return errs
	}

	ids := make(map[string]bool, len(m.Stories))
	for i, s := range m.Stories {
		if s.ID == "" {
			add("stories[%d]: id is required", i)
			continue
		}
		if ids[s.ID] {
			add("stories[%d]: duplicate id %q", i, s.ID)
		}
		ids[s.ID] = true
		if s.Title == "" {
			add("story %s: title is required", s.ID)
		}
		if s.Description == "" {
			add("story %s: description is required", s.ID)
		}
		if len(s.AcceptanceCriteria) == 0 {
			add("story %s: acceptance_criteria must not be empty", s.ID)
		}
	}
	for _, s := range m.Stories {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				add("story %s: depends on unknown story %q", s.ID, dep)
			}
			if dep == s.ID {
				add("story %s: depends on itself", s.ID)
			}
		}
	}
	return errs
}

// ToState converts the manifest into a fresh state document. Every story
// gets the default workflow; stories already marked passing enter as
// completed so their dependents are immediately assignable.
func (m *Manifest) ToState(manifestPath string) *workflow.State {
	st := &workflow.State{
		Version:      workflow.StateVersion,
		CreatedAt:    time.Now().UTC(),
		ManifestPath: manifestPath,
		Stories:      make(map[string]*workflow.Story, len(m.Stories)),
	}
	for _, s := range m.Stories {
		status := workflow.StoryUnclaimed
		if s.Passes {
			status = workflow.StoryCompleted
		}
		st.Stories[s.ID] = &workflow.Story{
			ID:                 s.ID,
			Title:              s.Title,
			Description:        s.Description,
			AcceptanceCriteria: append([]string{}, s.AcceptanceCriteria...),
			Status:             status,
			DependsOn:          append([]string{}, s.DependsOn...),
			Steps:              workflow.DefaultWorkflow(),
			History:            []workflow.HistoryEntry{},
		}
	}
	return st
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}
