package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Locking architecture (realizes the collection's global rw-lock):
//
//  1. registryEntry.mu — per-file in-process guard. Multiple Manager
//     handles in one process opened against the same file share one
//     entry; Manager.Lock takes it in exclusive mode, for readers and
//     writers alike.
//
//  2. interprocess advisory lock — a sibling "<path>.lock" file, flocked
//     via golang.org/x/sys/unix.Flock. This is the only cross-process
//     exclusion mechanism available: Go has no portable process-shared
//     mutex over mmap'd memory. List, Queue and Stack take it (through
//     Manager.Lock) for their locked operations. Set and Map writers do
//     not: they take only the in-process bucket locks, so Set and Map
//     writers in different processes are not excluded from each other.
//
// Lock ordering: registryEntry.mu -> interprocess lock.

var (
	// ErrWouldBlock is returned by TryLock/TryRLock when the lock is held
	// by another process.
	ErrWouldBlock = errors.New("lock would block")
)

// fileRegistry maps file identities to their per-file lock state, shared
// across every Manager opened against the same underlying file in this
// process.
var fileRegistry sync.Map // map[fileIdentity]*registryEntry

type fileIdentity struct {
	dev uint64
	ino uint64
}

// registryEntry coordinates in-process readers and writers for one file
// identity, mirroring the fileRegistryEntry/openCount pattern.
type registryEntry struct {
	mu        sync.RWMutex
	openCount atomic.Int32
}

func getFileIdentity(fd int) (fileIdentity, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fileIdentity{}, fmt.Errorf("fstat: %w", err)
	}

	return fileIdentity{dev: uint64(st.Dev), ino: st.Ino}, nil
}

func acquireRegistryEntry(id fileIdentity) *registryEntry {
	for {
		if val, ok := fileRegistry.Load(id); ok {
			entry, ok := val.(*registryEntry)
			if !ok {
				fileRegistry.CompareAndDelete(id, val)

				continue
			}

			for {
				old := entry.openCount.Load()
				if old <= 0 {
					break
				}

				if entry.openCount.CompareAndSwap(old, old+1) {
					return entry
				}
			}

			continue
		}

		entry := &registryEntry{}
		entry.openCount.Store(1)

		if _, loaded := fileRegistry.LoadOrStore(id, entry); !loaded {
			return entry
		}
	}
}

func releaseRegistryEntry(id fileIdentity) {
	val, ok := fileRegistry.Load(id)
	if !ok {
		return
	}

	entry, ok := val.(*registryEntry)
	if !ok {
		fileRegistry.CompareAndDelete(id, val)

		return
	}

	if entry.openCount.Add(-1) <= 0 {
		fileRegistry.CompareAndDelete(id, entry)
	}
}

// InterprocessLock holds an advisory flock on a collection's sibling
// ".lock" file, guarding writer exclusivity across processes.
type InterprocessLock struct {
	mu   sync.Mutex
	file *os.File
}

// AcquireInterprocessLock blocks until an exclusive advisory lock is held
// on path+".lock". The lock file is created if absent and is not
// removed by this package (removing it while locks are held would break flock's inode
// semantics for any other waiter).
func AcquireInterprocessLock(path string) (*InterprocessLock, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}

	if err := flockRetryEINTR(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("flock: %w", err)
	}

	return &InterprocessLock{file: f}, nil
}

// TryAcquireInterprocessLock attempts the same lock without blocking,
// returning ErrWouldBlock immediately on contention.
func TryAcquireInterprocessLock(path string) (*InterprocessLock, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}

	err = flockRetryEINTR(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	return &InterprocessLock{file: f}, nil
}

// AcquireInterprocessLockTimeout polls with exponential backoff (1ms to
// 25ms) until the lock is acquired or timeout elapses.
func AcquireInterprocessLockTimeout(path string, timeout time.Duration) (*InterprocessLock, error) {
	if timeout <= 0 {
		return TryAcquireInterprocessLock(path)
	}

	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	for {
		lk, err := TryAcquireInterprocessLock(path)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		if backoff > remaining {
			backoff = remaining
		}

		time.Sleep(backoff)

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

// Close releases the lock. Idempotent.
func (lk *InterprocessLock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())
	unlockErr := flockRetryEINTR(fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	return errors.Join(unlockErr, closeErr)
}

func openLockFile(path string) (*os.File, error) {
	return os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o600)
}

// flockRetryEINTR retries flock on EINTR: blocking syscalls can be
// interrupted by an unrelated signal and should resume, not fail.
func flockRetryEINTR(fd, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for i := 0; i < maxEINTRRetries; i++ {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
