package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if !strings.HasPrefix(string(content), fmt.Sprintf("pid=%d\n", os.Getpid())) {
		t.Errorf("Lock file content = %q", content)
	}
	if !strings.Contains(string(content), "started=") {
		t.Errorf("Lock file missing start time: %q", content)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir)
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}

	if !errors.Is(err, ErrLocked) {
		t.Errorf("errors.Is(err, ErrLocked) = false for %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() || !lockErr.Holder.Running {
		t.Errorf("Holder = %+v, want running PID %d", lockErr.Holder, os.Getpid())
	}
	if !strings.Contains(err.Error(), lockErr.LockPath) {
		t.Errorf("Error message should contain the lock path: %s", err)
	}

	// A failed attempt must not clobber the holder's details.
	content, _ := os.ReadFile(filepath.Join(dir, LockFileName))
	if !strings.Contains(string(content), fmt.Sprintf("pid=%d", os.Getpid())) {
		t.Errorf("holder info lost after conflict: %q", content)
	}
}

func TestLockRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lock.Path())
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	relock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Lock should be reacquirable after release: %v", err)
	}
	relock.Release()
}

func TestReadHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	tests := []struct {
		name    string
		content string
		wantPID int
	}{
		{"full", "pid=4242\nstarted=2024-03-01T12:00:00Z\n", 4242},
		{"pid only", "pid=17\n", 17},
		{"garbage", "hello", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			h := readHolder(path)
			if h.PID != tt.wantPID {
				t.Errorf("PID = %d, want %d", h.PID, tt.wantPID)
			}
			if h.String() == "" {
				t.Error("String should describe the holder")
			}
		})
	}

	if h := readHolder(filepath.Join(dir, "missing")); h.PID != 0 {
		t.Errorf("missing file PID = %d", h.PID)
	}
}
