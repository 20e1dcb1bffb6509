package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the locations depot uses when the config does not say otherwise.
type Paths struct {
	ConfigFile string
	BaseDir    string
	LogDir     string
}

// DefaultPaths resolves Paths from the environment. In order of precedence:
//   - DEPOT_CONFIG_PATH, then $XDG_CONFIG_HOME/depot.toml, then ~/.config/depot.toml
//   - DEPOT_HOME, then $XDG_DATA_HOME/depot, then ~/.local/share/depot
func DefaultPaths() (Paths, error) {
	configFile, err := lookupPath("DEPOT_CONFIG_PATH", "XDG_CONFIG_HOME", "depot.toml", ".config")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := lookupPath("DEPOT_HOME", "XDG_DATA_HOME", "depot", ".local", "share")
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigFile: configFile,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// lookupPath returns the value of override when set, name under the xdg
// directory when that is set, and name under homeRel in the home directory otherwise.
func lookupPath(override, xdg, name string, homeRel ...string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); dir != "" {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), name)...), nil
}
