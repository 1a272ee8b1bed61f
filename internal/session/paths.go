package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatty.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatty")
}

// TokenPath returns where the client caches its bearer token.
func TokenPath() string {
	return filepath.Join(BaseDir(), "token")
}

// LogPath returns the client log file path.
func LogPath() string {
	return filepath.Join(BaseDir(), "logs", "chatty.log")
}

// EnsureDir creates the state directory tree with proper permissions.
func EnsureDir() error {
	dirs := []string{
		BaseDir(),
		filepath.Dir(LogPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
