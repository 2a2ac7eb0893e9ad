package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveConfigPath searches for a config file in standard locations:
// $XDG_CONFIG_HOME/minder/minder.yaml, then
// ~/.config/minder/minder.yaml, then ./minder.yaml.
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "minder", "minder.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "minder", "minder.yaml"))
	}

	candidates = append(candidates, "minder.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("config: no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/minder if set, otherwise ~/.local/share/minder.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "minder")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "minder")
}

// ResolveDataDir returns the effective data directory for a config,
// preferring the configured value over the XDG default.
func (c *Config) ResolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}

// ArchivePath returns the effective archive database path.
func (c *Config) ArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return filepath.Join(c.ResolveDataDir(), "archive.db")
}

// OutputRoot returns the directory under which per-job output
// directories are created.
func (c *Config) OutputRoot() string {
	return filepath.Join(c.ResolveDataDir(), "jobs")
}
