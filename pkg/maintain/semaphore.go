package maintain

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Semaphore is the optional cross-process exclusion around a maintenance
// pass. Controllers in different processes pointed at the same database
// share one by agreeing on an external resource (here, a lock file).
type Semaphore interface {
	Acquire(ctx context.Context) error
	Release() error
}

// FileSemaphore is a flock-based Semaphore. The zero path is invalid; use
// NewFileSemaphore.
type FileSemaphore struct {
	path string
	f    *os.File
}

func NewFileSemaphore(path string) *FileSemaphore {
	return &FileSemaphore{path: path}
}

// Acquire takes the exclusive lock, polling so ctx cancellation is honored
// (flock itself cannot be interrupted portably).
func (s *FileSemaphore) Acquire(ctx context.Context) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			s.f = f
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			_ = f.Close()
			return err
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *FileSemaphore) Release() error {
	if s.f == nil {
		return nil
	}
	err := unix.Flock(int(s.f.Fd()), unix.LOCK_UN)
	cerr := s.f.Close()
	s.f = nil
	if err != nil {
		return err
	}
	return cerr
}
