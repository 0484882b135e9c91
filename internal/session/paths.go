package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatline.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatline")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// DBPath returns the sqlite database path for a profile. The database holds
// the local identity settings and the durable outbox.
func DBPath(profile string) string {
	return filepath.Join(Dir(profile), "chatline.db")
}

// MediaDir returns the directory staged media is copied into.
func MediaDir(profile string) string {
	return filepath.Join(Dir(profile), "media")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "chatlined.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the profile directory tree with owner-only permissions.
func EnsureDirs(profile string) error {
	dirs := []string{
		Dir(profile),
		MediaDir(profile),
		LogDir(profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
