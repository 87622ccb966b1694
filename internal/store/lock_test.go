package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func Test_TryAcquireInterprocessLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coll.fcs")

	lock1, err := TryAcquireInterprocessLock(path)
	if err != nil {
		t.Fatalf("TryAcquireInterprocessLock(first): %v", err)
	}

	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := TryAcquireInterprocessLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryAcquireInterprocessLock(while locked): err=%v, want %v", err, ErrWouldBlock)
	}

	if lock2 != nil {
		t.Fatal("TryAcquireInterprocessLock(while locked) returned a non-nil lock")
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(lock1): %v", err)
	}

	lock3, err := TryAcquireInterprocessLock(path)
	if err != nil {
		t.Fatalf("TryAcquireInterprocessLock(after release): %v", err)
	}

	if err := lock3.Close(); err != nil {
		t.Fatalf("Close(lock3): %v", err)
	}
}

func Test_AcquireInterprocessLockTimeout_Returns_ErrWouldBlock_When_Still_Held(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coll.fcs")

	lock1, err := AcquireInterprocessLock(path)
	if err != nil {
		t.Fatalf("AcquireInterprocessLock: %v", err)
	}

	defer func() { _ = lock1.Close() }()

	_, err = AcquireInterprocessLockTimeout(path, 50*time.Millisecond)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("AcquireInterprocessLockTimeout: err=%v, want %v", err, ErrWouldBlock)
	}
}

func Test_InterprocessLock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coll.fcs")

	lock, err := AcquireInterprocessLock(path)
	if err != nil {
		t.Fatalf("AcquireInterprocessLock: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("second Close: %v, want nil (idempotent)", err)
	}
}

func Test_Manager_Lock_Serializes_Concurrent_Writers_Across_Handles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coll.fcs")

	m1, err := Open(path, 0, false)
	if err != nil {
		t.Fatalf("Open(m1): %v", err)
	}

	defer func() { _ = m1.Close() }()

	m2, err := Open(path, 0, false)
	if err != nil {
		t.Fatalf("Open(m2): %v", err)
	}

	defer func() { _ = m2.Close() }()

	if err := m1.Lock(); err != nil {
		t.Fatalf("m1.Lock(): %v", err)
	}

	unlocked := make(chan struct{})
	acquired := make(chan struct{})

	go func() {
		if err := m2.Lock(); err != nil {
			t.Errorf("m2.Lock(): %v", err)

			return
		}

		close(acquired)
		m2.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("m2.Lock() acquired the lock while m1 still held it")
	case <-time.After(20 * time.Millisecond):
	}

	m1.Unlock()
	close(unlocked)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("m2.Lock() did not acquire the lock after m1.Unlock()")
	}
}
