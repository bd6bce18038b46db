package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ConfigFileName is the name of the drover configuration file.
const ConfigFileName = "drover.toml"

// Config is the top-level configuration structure mapping to drover.toml.
type Config struct {
	Project ProjectConfig `toml:"project"`
	Agent   AgentConfig   `toml:"agent"`
}

// ProjectConfig maps to the [project] section in drover.toml.
type ProjectConfig struct {
	Name         string `toml:"name"`
	BaseBranch   string `toml:"base_branch"`
	RunsDir      string `toml:"runs_dir"`
	WorktreesDir string `toml:"worktrees_dir"`
	Parallelism  int    `toml:"parallelism"`
}

// AgentConfig maps to the [agent] section in drover.toml. It carries the
// environment contract for containerized agent runs: the image, the compose
// file, the env file, the main service, and the comma-separated infrastructure
// services, plus the git author identity stamped on agent commits.
type AgentConfig struct {
	Command       string `toml:"command"`
	Image         string `toml:"image"`
	ComposeFile   string `toml:"compose_file"`
	EnvFile       string `toml:"env_file"`
	Service       string `toml:"service"`
	InfraServices string `toml:"infra_services"`
	Containerized bool   `toml:"containerized"`
	AuthorName    string `toml:"author_name"`
	AuthorEmail   string `toml:"author_email"`
}

// InfraServiceList splits the comma-separated infra services field.
func (a AgentConfig) InfraServiceList() []string {
	var out []string
	for _, part := range strings.Split(a.InfraServices, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FindConfigFile walks up from the given directory to find drover.toml.
// Returns the absolute path to the config file, or an empty string if not
// found. Stops at the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadFromFile parses the TOML file at the given path and returns the
// configuration and TOML metadata. The metadata can be used to detect
// unknown keys via MetaData.Undecoded().
func LoadFromFile(path string) (*Config, toml.MetaData, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, md, fmt.Errorf("loading config %s: %w", path, err)
	}
	return &cfg, md, nil
}

// LoadEnvFile loads DROVER_* variables from the given dotenv file into the
// process environment without overriding variables already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
