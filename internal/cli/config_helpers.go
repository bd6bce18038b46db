package cli

import (
	"errors"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/droverhq/drover/internal/config"
)

// loadAndResolveConfig finds and loads drover.toml (honoring --config),
// layers defaults, file, environment, and CLI overrides, then validates the
// result. Validation failures exit with code 2.
func loadAndResolveConfig(overrides *config.CLIOverrides) (*config.ResolvedConfig, error) {
	path := flagConfig
	if path == "" {
		found, err := config.FindConfigFile(".")
		if err != nil {
			return nil, err
		}
		path = found
	}

	var (
		fileCfg *config.Config
		md      *toml.MetaData
	)
	if path != "" {
		cfg, meta, err := config.LoadFromFile(path)
		if err != nil {
			return nil, exitWithCode(2, err)
		}
		fileCfg = cfg
		md = &meta
	}

	rc := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	rc.Path = path

	if vr := config.Validate(rc.Config, md); vr.HasErrors() {
		return nil, exitWithCode(2, errors.New(vr.Error()))
	}
	return rc, nil
}
