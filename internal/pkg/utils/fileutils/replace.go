package fileutils

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// getLockFile computes a unique lock file path based on the canonical absolute path of newPath.
func getLockFile(newPath string) string {
	abs, err := filepath.Abs(newPath)
	if err != nil {
		abs = newPath
	}
	abs = filepath.Clean(abs)
	hash := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "patchslot_lock_"+hex.EncodeToString(hash[:]))
}

// acquireLock creates a new flock based on lockPath and acquires an exclusive lock.
func acquireLock(lockPath string) (*flock.Flock, error) {
	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	return lock, nil
}

// ReplaceFile atomically replaces the file at targetPath with the file at currentPath,
// using a unique lock file based on targetPath.
// Both paths must be on the same filesystem.
func ReplaceFile(currentPath, targetPath string) error {
	lock, err := acquireLock(getLockFile(targetPath))
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock()
	}()
	if err := os.Rename(currentPath, targetPath); err != nil {
		return err
	}
	syncDir(filepath.Dir(targetPath))
	return nil
}

// syncDir flushes the directory entry of a rename. Not every platform allows
// syncing a directory, so failures are only logged.
func syncDir(dirPath string) {
	d, err := os.Open(dirPath)
	if err != nil {
		log.WithError(err).Debugf("failed to open %q for sync", dirPath)
		return
	}
	if err := d.Sync(); err != nil {
		log.WithError(err).Debugf("failed to sync %q", dirPath)
	}
	_ = d.Close()
}
