package commands

import (
	"github.com/teranos/pulsejobs/am"
	"github.com/teranos/pulsejobs/errors"
)

// ConfigFile overrides am.toml discovery when set (--config)
var ConfigFile string

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigFile != "" {
		cfg, err = am.LoadFromFile(ConfigFile)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}
