// Package logfile gives every bot run a fresh log file.
package logfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultKeepTail is how much of the previous run's log is preserved.
const DefaultKeepTail = 256 * 1024

// PreviousPath is where Rotate keeps the tail of the last run's log.
func PreviousPath(path string) string {
	return path + ".prev"
}

// Rotate empties the log at path so the run about to start writes a fresh
// log. The last keepTail bytes of the old log are copied to PreviousPath
// first, replacing whatever an earlier run left there. A missing or empty
// log is left alone.
func Rotate(path string, keepTail int64) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	if keepTail > 0 {
		if _, err := f.Seek(-min(keepTail, info.Size()), io.SeekEnd); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		prev, err := os.OpenFile(PreviousPath(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("create previous log: %w", err)
		}
		if _, err := io.Copy(prev, f); err != nil {
			prev.Close()
			return fmt.Errorf("copy previous log: %w", err)
		}
		if err := prev.Close(); err != nil {
			return fmt.Errorf("close previous log: %w", err)
		}
	}

	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("reset log file: %w", err)
	}
	return nil
}
