package config

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from the drover.toml config file.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the fully-resolved configuration with source tracking.
// The Config field contains the merged values; Sources tracks where each came
// from, keyed by dotted path, e.g. "agent.image".
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource
	Path    string // path to the config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration.
// Nil values mean "not set" (do not override).
type CLIOverrides struct {
	Parallelism *int
	Build       *bool
}

// EnvFunc is a function that looks up environment variables.
// Default implementation is os.LookupEnv. Injected for testability.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	resolveFromDefaults(rc, defaults)
	if fileConfig != nil {
		resolveFromFile(rc, fileConfig)
	}
	resolveFromEnv(rc, envFn)
	resolveFromCLI(rc, overrides)

	return rc
}

func resolveFromDefaults(rc *ResolvedConfig, defaults *Config) {
	p, a := &rc.Config.Project, &rc.Config.Agent
	dp, da := &defaults.Project, &defaults.Agent

	setString(&p.Name, dp.Name, "project.name", SourceDefault, rc.Sources)
	setString(&p.BaseBranch, dp.BaseBranch, "project.base_branch", SourceDefault, rc.Sources)
	setString(&p.RunsDir, dp.RunsDir, "project.runs_dir", SourceDefault, rc.Sources)
	setString(&p.WorktreesDir, dp.WorktreesDir, "project.worktrees_dir", SourceDefault, rc.Sources)
	p.Parallelism = dp.Parallelism
	rc.Sources["project.parallelism"] = SourceDefault

	setString(&a.Command, da.Command, "agent.command", SourceDefault, rc.Sources)
	setString(&a.Image, da.Image, "agent.image", SourceDefault, rc.Sources)
	setString(&a.ComposeFile, da.ComposeFile, "agent.compose_file", SourceDefault, rc.Sources)
	setString(&a.EnvFile, da.EnvFile, "agent.env_file", SourceDefault, rc.Sources)
	setString(&a.Service, da.Service, "agent.service", SourceDefault, rc.Sources)
	setString(&a.InfraServices, da.InfraServices, "agent.infra_services", SourceDefault, rc.Sources)
	setString(&a.AuthorName, da.AuthorName, "agent.author_name", SourceDefault, rc.Sources)
	setString(&a.AuthorEmail, da.AuthorEmail, "agent.author_email", SourceDefault, rc.Sources)
	a.Containerized = da.Containerized
	rc.Sources["agent.containerized"] = SourceDefault
}

func resolveFromFile(rc *ResolvedConfig, file *Config) {
	p, a := &rc.Config.Project, &rc.Config.Agent
	fp, fa := &file.Project, &file.Agent

	mergeString(&p.Name, fp.Name, "project.name", SourceFile, rc.Sources)
	mergeString(&p.BaseBranch, fp.BaseBranch, "project.base_branch", SourceFile, rc.Sources)
	mergeString(&p.RunsDir, fp.RunsDir, "project.runs_dir", SourceFile, rc.Sources)
	mergeString(&p.WorktreesDir, fp.WorktreesDir, "project.worktrees_dir", SourceFile, rc.Sources)
	if fp.Parallelism > 0 {
		p.Parallelism = fp.Parallelism
		rc.Sources["project.parallelism"] = SourceFile
	}

	mergeString(&a.Command, fa.Command, "agent.command", SourceFile, rc.Sources)
	mergeString(&a.Image, fa.Image, "agent.image", SourceFile, rc.Sources)
	mergeString(&a.ComposeFile, fa.ComposeFile, "agent.compose_file", SourceFile, rc.Sources)
	mergeString(&a.EnvFile, fa.EnvFile, "agent.env_file", SourceFile, rc.Sources)
	mergeString(&a.Service, fa.Service, "agent.service", SourceFile, rc.Sources)
	mergeString(&a.InfraServices, fa.InfraServices, "agent.infra_services", SourceFile, rc.Sources)
	mergeString(&a.AuthorName, fa.AuthorName, "agent.author_name", SourceFile, rc.Sources)
	mergeString(&a.AuthorEmail, fa.AuthorEmail, "agent.author_email", SourceFile, rc.Sources)
	if fa.Containerized {
		a.Containerized = true
		rc.Sources["agent.containerized"] = SourceFile
	}
}

// Environment variable mapping:
//
//	DROVER_BASE_BRANCH       -> project.base_branch
//	DROVER_IMAGE             -> agent.image
//	DROVER_COMPOSE_FILE      -> agent.compose_file
//	DROVER_ENV_FILE          -> agent.env_file
//	DROVER_SERVICE           -> agent.service
//	DROVER_INFRA_SERVICES    -> agent.infra_services
//	DROVER_GIT_AUTHOR_NAME   -> agent.author_name
//	DROVER_GIT_AUTHOR_EMAIL  -> agent.author_email
func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	p, a := &rc.Config.Project, &rc.Config.Agent

	envString := func(key string, target *string, path string) {
		if val, ok := envFn(key); ok {
			*target = val
			rc.Sources[path] = SourceEnv
		}
	}

	envString("DROVER_BASE_BRANCH", &p.BaseBranch, "project.base_branch")
	envString("DROVER_IMAGE", &a.Image, "agent.image")
	envString("DROVER_COMPOSE_FILE", &a.ComposeFile, "agent.compose_file")
	envString("DROVER_ENV_FILE", &a.EnvFile, "agent.env_file")
	envString("DROVER_SERVICE", &a.Service, "agent.service")
	envString("DROVER_INFRA_SERVICES", &a.InfraServices, "agent.infra_services")
	envString("DROVER_GIT_AUTHOR_NAME", &a.AuthorName, "agent.author_name")
	envString("DROVER_GIT_AUTHOR_EMAIL", &a.AuthorEmail, "agent.author_email")
}

func resolveFromCLI(rc *ResolvedConfig, overrides *CLIOverrides) {
	if overrides.Parallelism != nil {
		rc.Config.Project.Parallelism = *overrides.Parallelism
		rc.Sources["project.parallelism"] = SourceCLI
	}
}

// setString unconditionally sets the target to the given value and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty. An empty
// string in the file means "not set in file", so it does not override the
// default.
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}
