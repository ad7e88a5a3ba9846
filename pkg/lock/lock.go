// Package lock provides a PID-file-based mutual exclusion lock for the
// import loop's state directory, so two bimport invocations against the
// same goal don't race on the same mirror/recipe/checkout tree. Adapted
// from the teacher's pkg/cache file-locking helper.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Acquire locks target (a directory or file) by creating a ".lock" file
// next to it. If a lock already exists, it waits for the holding process
// to exit, or reclaims the lock if that process is no longer alive.
// The returned func releases the lock.
func Acquire(target string) (func() error, error) {
	lockFile := target + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for {
		f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				os.Remove(lockFile)
				return nil, fmt.Errorf("writing lock file: %w", err)
			}
			f.Close()
			return func() error { return os.Remove(lockFile) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}

		content, err := os.ReadFile(lockFile)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		parts := strings.Split(strings.TrimSpace(string(content)), " ")
		if len(parts) < 2 {
			os.Remove(lockFile)
			continue
		}
		pid, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			os.Remove(lockFile)
			continue
		}
		if pidAlive(pid) {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		os.Remove(lockFile)
	}
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	return true
}
