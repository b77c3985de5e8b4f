package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBaseDir returns $HOME/tftp, creating it when missing.
func DefaultBaseDir() (string, error) {
	p, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error while getting user home dir: %w", err)
	}

	tftpBaseDir := filepath.Join(p, "tftp")

	if err := EnsureDir(tftpBaseDir); err != nil {
		return "", err
	}

	return tftpBaseDir, nil
}

func EnsureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("error checking if dir exists: %w", err)
		}

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("error while creating tftp base dir: %w", err)
		}

		return nil
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	return nil
}
