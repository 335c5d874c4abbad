package pipeline

import (
	"os"
	"path/filepath"
	"strings"
)

// StagingName is the directory under the data root that holds per-request
// working trees.
const StagingName = "original"

// Layout maps identity keys to paths under the data root.
type Layout struct {
	Root string
}

// StagingDir is the working tree for raw and intermediate artifacts.
func (l Layout) StagingDir(key string) string {
	return filepath.Join(l.Root, StagingName, key)
}

// OutputDir holds the single output file for key.
func (l Layout) OutputDir(key string) string {
	return filepath.Join(l.Root, key)
}

// OutputPath is the deterministic output file for key.
func (l Layout) OutputPath(key string) string {
	return filepath.Join(l.Root, key, key+"_in.nc")
}

// LeasePath is the lock file that marks key as owned by a running attempt.
func (l Layout) LeasePath(key string) string {
	return filepath.Join(l.Root, StagingName, key+".lock")
}

// ValidKey reports whether key is a single clean path element, so it can be
// taken from a URL without escaping the data root.
func ValidKey(key string) bool {
	return key != "" && key != "." && key != ".." && key != StagingName &&
		!strings.ContainsAny(key, `/\`) && filepath.Base(key) == key
}

// Outputs lists the keys that have a completed output file.
func (l Layout) Outputs() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == StagingName {
			continue
		}
		if _, err := os.Stat(l.OutputPath(e.Name())); err == nil {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}
