package docstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
)

// replacer moves src over dst in a single step.
type replacer func(fs afero.Fs, src, dst string) error

func replaceFile(fs afero.Fs, src, dst string) error {
	if _, ok := fs.(*afero.OsFs); ok {
		return atomic.ReplaceFile(src, dst)
	}
	return fs.Rename(src, dst)
}

// writeAtomic writes data to a process-unique temp file next to path and
// replaces path with it. Readers observe either the old or the new content.
// The temp file never outlives a failed attempt.
func (s *Store) writeAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	tmp, err := afero.TempFile(s.fs, dir, fmt.Sprintf(".%s.%d-", base, os.Getpid()))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = s.replace(s.fs, tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
