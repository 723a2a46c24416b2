package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.exemplar/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".exemplar", "logs")
	}
	return filepath.Join(home, ".exemplar", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "exemplar.log")
}

// EnsureLogDir creates the default log directory if it does not exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
