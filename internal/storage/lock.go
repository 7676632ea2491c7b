package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/gofrs/flock"
)

const lockFileName = ".crawler.lock"

// ErrLocked is returned by TryLock when another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another crawler process")

// Lock is a file lock on the data directory. The JSON stores are rewritten
// whole, so at most one process may write them at a time.
type Lock struct {
	lock *flock.Flock
	path string
	log  *logger.Logger
}

// NewLock creates a lock for dataDir. The directory is created if missing.
func NewLock(dataDir string, log *logger.Logger) (*Lock, error) {
	if log == nil {
		log = logger.Default()
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve data dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(abs, lockFileName)
	return &Lock{
		lock: flock.New(path),
		path: path,
		log:  log.WithComponent("lock"),
	}, nil
}

// TryLock acquires the lock without waiting.
func (l *Lock) TryLock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Lock acquires the lock, waiting for another process to finish if necessary.
func (l *Lock) Lock() error {
	err := l.TryLock()
	if !errors.Is(err, ErrLocked) {
		return err
	}

	l.log.Warn("another crawler process is writing to the data directory, waiting", "lock", l.path)
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
	}
	return nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
