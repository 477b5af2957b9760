package supervisor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is a process-wide advisory lock backed by flock(2),
// preventing two supervisors from running against the same state
// concurrently.
type FileLock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) the file at path and takes a
// non-blocking exclusive flock on it. A locked-elsewhere file returns
// an error immediately rather than blocking -- acquisition failure is
// meant to be fatal to the caller.
func AcquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("supervisor: another supervisor already holds %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *FileLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
