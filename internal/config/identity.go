package config

import (
	"github.com/droverhq/drover/internal/logging"
)

// GitConfigFunc reads a value from host git config (e.g. "user.name"),
// returning an empty string when unset. Injected so identity resolution can
// be tested without a git binary.
type GitConfigFunc func(key string) string

// ResolveGitIdentity resolves the author name and email stamped on agent
// commits. Priority, independently for name and email:
//
//  1. agent config (DROVER_GIT_AUTHOR_NAME / DROVER_GIT_AUTHOR_EMAIL or
//     drover.toml)
//  2. host git config user.name / user.email
//  3. documented fallback, with a warning
func ResolveGitIdentity(cfg AgentConfig, gitConfig GitConfigFunc) (name, email string) {
	log := logging.New("config")
	if gitConfig == nil {
		gitConfig = func(string) string { return "" }
	}

	name = cfg.AuthorName
	if name == "" {
		name = gitConfig("user.name")
	}
	if name == "" {
		name = DefaultAuthorName
		log.Warn("git author name not configured; set DROVER_GIT_AUTHOR_NAME or run `git config user.name`",
			"fallback", name)
	}

	email = cfg.AuthorEmail
	if email == "" {
		email = gitConfig("user.email")
	}
	if email == "" {
		email = DefaultAuthorEmail
		log.Warn("git author email not configured; set DROVER_GIT_AUTHOR_EMAIL or run `git config user.email`",
			"fallback", email)
	}

	return name, email
}
