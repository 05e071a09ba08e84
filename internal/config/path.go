package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the directory herald keeps its store in when none is
// configured. HERALD_DATA_DIR wins, then XDG_DATA_HOME, then the usual
// per-OS application data locations, then a dotdir in the home directory.
func DefaultDataDir() string {
	if v := os.Getenv("HERALD_DATA_DIR"); v != "" {
		return v
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "herald")
	}

	if isWritableDir("/var/lib") {
		return "/var/lib/herald"
	}

	// macOS
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Herald")
	}

	// Windows
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Herald")
	}

	return filepath.Join(homeDir, ".herald")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func isWritableDir(path string) bool {
	if !isDir(path) {
		return false
	}
	f, err := os.CreateTemp(path, ".herald-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
