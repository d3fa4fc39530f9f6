// Package docstore persists named JSON documents in a data directory. Every
// write replaces the whole file atomically and refreshes a backup that reads
// fall back to when the primary file is found damaged.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
)

var (
	ErrInvalidName     = errors.New("invalid document name")
	ErrInvalidDocument = errors.New("invalid document")
	ErrCorrupted       = errors.New("document corrupted")
	ErrWriteExhausted  = errors.New("write attempts exhausted")
	ErrReadExhausted   = errors.New("read attempts exhausted")

	errLockHeld = errors.New("lock held by another process")
)

const (
	fileSuffix   = ".json"
	backupSuffix = ".backup"
	lockSuffix   = ".lock"
)

type Config struct {
	Dir string `mapstructure:"data-dir" validate:"required"`
	// WriteAttempts bounds lock acquisition and temp-file-plus-replace
	// attempts of a single write.
	WriteAttempts int `mapstructure:"write-attempts" validate:"min=1"`
	// ReadAttempts bounds reads failing with anything but not-exist.
	ReadAttempts int           `mapstructure:"read-attempts" validate:"min=1"`
	BaseDelay    time.Duration `mapstructure:"base-delay" validate:"min=0"`
	// CrossProcessLock takes an advisory file lock next to each document
	// for the duration of every operation. It only applies to the OS
	// filesystem.
	CrossProcessLock bool `mapstructure:"cross-process-lock"`
}

func DefaultConfig() Config {
	return Config{
		Dir:              "./data",
		WriteAttempts:    5,
		ReadAttempts:     3,
		BaseDelay:        50 * time.Millisecond,
		CrossProcessLock: true,
	}
}

// UpdateFunc receives the current document, which it may modify, and returns
// the document to store. Nothing is written if changed is false.
type UpdateFunc func(doc document.Document) (next document.Document, changed bool, err error)

type Opt func(*Store)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithFilesystem(fs afero.Fs) Opt {
	return func(s *Store) {
		s.fs = fs
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(s *Store) {
		s.clock = clock
	}
}

func withReplacer(r replacer) Opt {
	return func(s *Store) {
		s.replace = r
	}
}

// Store reads and writes documents. It is safe for concurrent use. Operations
// on the same document are serialized, operations on different documents
// never wait for each other.
type Store struct {
	logger  *zap.Logger
	cfg     Config
	fs      afero.Fs
	clock   clockwork.Clock
	replace replacer
	locks   *locks
}

func New(cfg Config, opts ...Opt) (*Store, error) {
	s := &Store{
		logger:  zap.NewNop(),
		cfg:     cfg,
		fs:      afero.NewOsFs(),
		clock:   clockwork.NewRealClock(),
		replace: replaceFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.WriteAttempts < 1 {
		s.cfg.WriteAttempts = 1
	}
	if s.cfg.ReadAttempts < 1 {
		s.cfg.ReadAttempts = 1
	}
	_, osfs := s.fs.(*afero.OsFs)
	s.locks = newLocks(s.cfg.CrossProcessLock && osfs)
	if err := s.fs.MkdirAll(s.cfg.Dir, 0o700); err != nil {
		return nil, log.ErrEnsureDataDir(s.cfg.Dir, err)
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// Path returns the file that holds the document name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.cfg.Dir, name+fileSuffix)
}

func (s *Store) backupPath(name string) string {
	return s.Path(name) + backupSuffix
}

func (s *Store) lockPath(name string) string {
	return s.Path(name) + lockSuffix
}

func checkName(name string) error {
	if !document.ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Read returns the document name. A document that was never written reads as
// an empty document. A damaged document, unparseable or not matching
// document.Schema, is restored from its backup, and if that is impossible
// Read fails with ErrCorrupted.
func (s *Store) Read(ctx context.Context, name string) (document.Document, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.read(ctx, name)
}

// Write replaces the document name with doc.
func (s *Store) Write(ctx context.Context, name string, doc document.Document) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()
	return s.commit(ctx, name, data)
}

// Update runs a read-modify-write cycle on the document name. No other
// operation on the same document, in this process or, with cross process
// locking, in another one, interleaves with it.
func (s *Store) Update(ctx context.Context, name string, fn UpdateFunc) (document.Document, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}
	next, changed, err := fn(current)
	if err != nil {
		return nil, err
	}
	if !changed {
		return next, nil
	}
	data, err := encode(next)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, name, data); err != nil {
		return nil, err
	}
	return next, nil
}

// Merge deep merges patch into the document name and returns the result.
// Fields the patch does not mention keep their stored values.
func (s *Store) Merge(ctx context.Context, name string, patch document.Document) (document.Document, error) {
	return s.Update(ctx, name, func(doc document.Document) (document.Document, bool, error) {
		merged := document.Merge(doc, patch)
		return merged, !document.Equal(doc, merged), nil
	})
}

// Remove deletes one entity from the document name. Other entities are kept.
func (s *Store) Remove(ctx context.Context, name, entity string) (document.Document, error) {
	return s.Update(ctx, name, func(doc document.Document) (document.Document, bool, error) {
		if _, ok := doc[entity]; !ok {
			return doc, false, nil
		}
		delete(doc, entity)
		return doc, true, nil
	})
}

func encode(doc document.Document) ([]byte, error) {
	data, err := document.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// read must be called with the document lock held.
func (s *Store) read(ctx context.Context, name string) (document.Document, error) {
	data, err := s.readFile(ctx, name, s.Path(name))
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists, xerr := afero.Exists(s.fs, s.backupPath(name))
		if xerr == nil && exists {
			return s.restore(ctx, name, err)
		}
		return document.Document{}, nil
	case err != nil:
		return nil, err
	}
	// content that could not have been written by the store is damaged even
	// when it parses
	if err := validate(data); err != nil {
		return s.restore(ctx, name, err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return s.restore(ctx, name, err)
	}
	return doc, nil
}

func (s *Store) readFile(ctx context.Context, name, path string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, name, "read", s.cfg.ReadAttempts, func() error {
		var err error
		data, err = afero.ReadFile(s.fs, path)
		if errors.Is(err, os.ErrNotExist) {
			return permanent{err}
		}
		return err
	})
	var p permanent
	if errors.As(err, &p) {
		return nil, p.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadExhausted, name, err)
	}
	return data, nil
}

// commit must be called with the document lock held.
func (s *Store) commit(ctx context.Context, name string, data []byte) error {
	start := s.clock.Now()
	err := s.retry(ctx, name, "write", s.cfg.WriteAttempts, func() error {
		return s.writeAtomic(s.Path(name), data)
	})
	if err != nil {
		writes.WithLabelValues(name, "failed").Inc()
		s.logger.Error("write failed",
			log.ZContext(ctx),
			zap.String("doc", name),
			zap.Error(err),
		)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrWriteExhausted, name, err)
	}
	writes.WithLabelValues(name, "ok").Inc()
	writeDuration.WithLabelValues(name).Observe(s.clock.Since(start).Seconds())
	s.refreshBackup(ctx, name, data)
	return nil
}

type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }

func (p permanent) Unwrap() error { return p.err }

// retry calls fn up to attempts times, doubling the wait between attempts.
// Errors wrapped in permanent end the loop immediately.
func (s *Store) retry(ctx context.Context, name, op string, attempts int, fn func() error) error {
	delay := s.cfg.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) || attempt >= attempts {
			return err
		}
		retries.WithLabelValues(name, op).Inc()
		s.logger.Debug("retrying",
			log.ZContext(ctx),
			zap.String("doc", name),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(delay):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		delay *= 2
	}
}
