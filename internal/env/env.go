// Package env resolves the engine's on-disk root and other
// environment-derived configuration (spec.md §6 Environment).
package env

import (
	"os"
	"path/filepath"
)

// AppName is the fixed name ("<app>" in spec.md §6) the store directory and
// CLI binary are named after.
const AppName = "rebuild"

// DataRoot returns the root directory for the content-addressed store:
// $XDG_DATA_HOME/<app> when XDG_DATA_HOME is set to an absolute path, else
// $HOME/.local/share/<app> (spec.md §4.2, §6).
func DataRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, AppName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", os.ErrNotExist
	}
	return filepath.Join(home, ".local", "share", AppName), nil
}

// LookPathDirs returns the directories searched for tool binaries: the
// process PATH, split on the OS list separator.
func LookPathDirs() []string {
	path := os.Getenv("PATH")
	if path == "" {
		return nil
	}
	return filepath.SplitList(path)
}
