package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Field   string // dotted path, e.g. "project.parallelism"
	Message string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationResult holds all validation findings. Configuration errors are
// fatal at startup, so the caller enumerates every issue before exiting.
type ValidationResult struct {
	Issues []ValidationIssue
}

func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Issues) > 0
}

// Error renders all issues as one enumerated message.
func (vr *ValidationResult) Error() string {
	msgs := make([]string, len(vr.Issues))
	for i, issue := range vr.Issues {
		msgs[i] = issue.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks a resolved configuration. All violations are collected,
// not just the first. The TOML metadata, when non-nil, is used to flag
// unknown keys in the config file.
func Validate(cfg *Config, md *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}
	add := func(field, format string, args ...any) {
		vr.Issues = append(vr.Issues, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Project.Parallelism < 1 {
		add("project.parallelism", "must be at least 1, got %d", cfg.Project.Parallelism)
	}
	if cfg.Project.BaseBranch == "" {
		add("project.base_branch", "must not be empty")
	}
	if cfg.Project.RunsDir == "" {
		add("project.runs_dir", "must not be empty")
	}
	if cfg.Agent.Command == "" {
		add("agent.command", "must not be empty")
	}
	if cfg.Agent.Containerized {
		if cfg.Agent.Image == "" {
			add("agent.image", "required when agent.containerized is true")
		}
		if cfg.Agent.Service == "" {
			add("agent.service", "required when agent.containerized is true")
		}
	}

	if md != nil {
		for _, key := range md.Undecoded() {
			add(key.String(), "unknown configuration key")
		}
	}
	return vr
}
