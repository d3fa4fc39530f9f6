package docstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
)

// validate rejects encoded documents that must never reach disk.
func validate(data []byte) error {
	if err := document.ValidateSchema(data); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}

// refreshBackup copies the bytes that were just committed to the backup file.
// A stale backup is tolerated, so failures are only reported.
func (s *Store) refreshBackup(ctx context.Context, name string, data []byte) {
	if err := s.writeAtomic(s.backupPath(name), data); err != nil {
		backupFailures.WithLabelValues(name).Inc()
		s.logger.Warn("failed to refresh backup",
			log.ZContext(ctx),
			zap.String("doc", name),
			zap.Error(err),
		)
	}
}

// restore replaces a damaged or missing primary file with its backup and
// returns the restored document. It must be called with the document lock
// held.
func (s *Store) restore(ctx context.Context, name string, cause error) (document.Document, error) {
	data, err := s.readFile(ctx, name, s.backupPath(name))
	if err != nil {
		return nil, s.corrupted(ctx, name, cause, err)
	}
	if err := validate(data); err != nil {
		return nil, s.corrupted(ctx, name, cause, err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, s.corrupted(ctx, name, cause, err)
	}
	err = s.retry(ctx, name, "restore", s.cfg.WriteAttempts, func() error {
		return s.writeAtomic(s.Path(name), data)
	})
	if err != nil {
		return nil, s.corrupted(ctx, name, cause, err)
	}
	restorations.WithLabelValues(name).Inc()
	s.logger.Error("restored document from backup",
		log.ZContext(ctx),
		zap.String("doc", name),
		zap.NamedError("cause", cause),
	)
	return doc, nil
}

func (s *Store) corrupted(ctx context.Context, name string, cause, backupErr error) error {
	corruptions.WithLabelValues(name).Inc()
	s.logger.Error("document corrupted and backup unusable",
		log.ZContext(ctx),
		zap.String("doc", name),
		zap.NamedError("cause", cause),
		zap.NamedError("backup", backupErr),
	)
	return fmt.Errorf("%w: %s: %w (backup: %w)", ErrCorrupted, name, cause, backupErr)
}
