package kvcache

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath picks the cache database location. An explicit path wins;
// otherwise an existing file is reused before a fresh one is created under
// $HOME/.deskhand.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	homeDir := filepath.Join(home, ".deskhand")
	homeDB := filepath.Join(homeDir, "deskhand.sqlite")
	localDB := filepath.Clean("./deskhand.sqlite")

	if _, err := os.Stat(homeDB); err == nil {
		return homeDB, nil
	}
	if _, err := os.Stat(localDB); err == nil {
		return localDB, nil
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return "", err
	}
	return homeDB, nil
}
