package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFile guards a data directory against a second bridge.
const LockFile = "whimmy.lock"

// ErrLocked is returned when another bridge holds the data directory.
var ErrLocked = errors.New("another whimmy bridge is running")

// acquireLock takes an exclusive, non-blocking lock on dataDir's lock file
// and records our pid in it.
func acquireLock(dataDir string) (*os.File, error) {
	path := filepath.Join(dataDir, LockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	if err := writePID(file); err != nil {
		releaseLock(file)
		return nil, err
	}
	return file, nil
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return file.Sync()
}

// releaseLock unlocks and closes a file returned by acquireLock.
func releaseLock(file *os.File) {
	if file == nil {
		return
	}
	unlockFile(file)
	file.Close()
}
