package store

import (
	"path/filepath"

	"github.com/nvandessel/episim/internal/constants"
)

// LocalPath returns the path to the local .episim directory
// for the given project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, constants.DirName)
}

// DatabasePath returns the results store path for the given project root.
func DatabasePath(projectRoot string) string {
	return filepath.Join(LocalPath(projectRoot), constants.DatabaseFile)
}
