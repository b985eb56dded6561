package recorder

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is the single output root.
type Dir struct {
	Root string
}

// Ensure creates the directory if it is absent.
func (d Dir) Ensure() error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", ErrIO, d.Root, err)
	}
	return nil
}

// Path returns the absolute directory path.
func (d Dir) Path() string {
	abs, err := filepath.Abs(d.Root)
	if err != nil {
		return d.Root
	}
	return abs
}
