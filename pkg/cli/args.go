// Package cli validates command line arguments before any network or
// filesystem side effects happen.
package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ValidateConfigPath checks a flag points at a readable regular file.
func ValidateConfigPath(flagName, path string) error {
	if path == "" {
		return fmt.Errorf("-%s is required", flagName)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("-%s: %w", flagName, err)
	}
	if info.IsDir() {
		return fmt.Errorf("-%s: %s is a directory", flagName, path)
	}
	return nil
}

// ValidateResumeID checks a resume id is a well-formed UUID before it is
// interpolated into a checkpoint lookup.
func ValidateResumeID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("malformed resume id %q: %w", id, err)
	}
	return nil
}
