package config

// Documented defaults for the environment contract.
const (
	DefaultImage         = "drover-agent:latest"
	DefaultComposeFile   = "compose.test.yml"
	DefaultEnvFile       = ".env"
	DefaultService       = "app"
	DefaultInfraServices = "mysql,redis"
	DefaultAuthorName    = "Drover Agent"
	DefaultAuthorEmail   = "drover-agent@drover.dev"
)

// NewDefaults returns a Config populated with all default values.
func NewDefaults() *Config {
	return &Config{
		Project: ProjectConfig{
			BaseBranch:   "main",
			RunsDir:      ".drover/runs",
			WorktreesDir: ".drover/worktrees",
			Parallelism:  3,
		},
		Agent: AgentConfig{
			Command:       "claude",
			Image:         DefaultImage,
			ComposeFile:   DefaultComposeFile,
			EnvFile:       DefaultEnvFile,
			Service:       DefaultService,
			InfraServices: DefaultInfraServices,
		},
	}
}
