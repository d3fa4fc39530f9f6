package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

type docLock struct {
	mu   sync.Mutex
	file *flock.Flock
}

type locks struct {
	mu           sync.Mutex
	crossProcess bool
	docs         map[string]*docLock
}

func newLocks(crossProcess bool) *locks {
	return &locks{crossProcess: crossProcess, docs: map[string]*docLock{}}
}

func (l *locks) get(name, path string) *docLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.docs[name]
	if !ok {
		dl = &docLock{}
		if l.crossProcess {
			dl.file = flock.New(path)
		}
		l.docs[name] = dl
	}
	return dl
}

// lock acquires the in-process lock of the document and, if enabled, its
// advisory file lock. Acquiring the file lock is retried like any other
// write attempt.
func (s *Store) lock(ctx context.Context, name string) (func(), error) {
	dl := s.locks.get(name, s.lockPath(name))
	dl.mu.Lock()
	if dl.file == nil {
		return dl.mu.Unlock, nil
	}
	err := s.retry(ctx, name, "lock", s.cfg.WriteAttempts, func() error {
		locked, err := dl.file.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			return errLockHeld
		}
		return nil
	})
	if err != nil {
		dl.mu.Unlock()
		return nil, fmt.Errorf("%w: lock %s: %w", ErrWriteExhausted, name, err)
	}
	return func() {
		if err := dl.file.Unlock(); err != nil {
			s.logger.Warn("failed to release file lock", zap.String("doc", name), zap.Error(err))
		}
		dl.mu.Unlock()
	}, nil
}
