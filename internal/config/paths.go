package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".cmdbot"

// Paths holds resolved filesystem paths for cmdbot data.
type Paths struct {
	Base   string // ~/.cmdbot
	Config string // ~/.cmdbot/config.yaml
	Logs   string // ~/.cmdbot/logs
	Data   string // ~/.cmdbot/data
}

// ResolvePaths computes all standard paths from the home directory.
// If CMDBOT_HOME is set, it overrides the default base directory.
// A config.toml in the base directory is preferred when no config.yaml exists.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CMDBOT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	cfgPath := filepath.Join(base, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if _, err := os.Stat(filepath.Join(base, "config.toml")); err == nil {
			cfgPath = filepath.Join(base, "config.toml")
		}
	}

	return Paths{
		Base:   base,
		Config: cfgPath,
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Logs, p.Data}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
