package fastcollection

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ajsinha/fastcollection/internal/store"
)

// version is the package's semantic-version string, returned by
// Version().
const version = "1.0.0"

var initialized atomic.Bool
var initOnce sync.Once

// Initialize performs process-wide one-time setup. Beyond guarding
// against double-init, it has no work to do: every collection opens
// and validates its own backing file independently.
func Initialize() {
	initOnce.Do(func() {
		initialized.Store(true)
		fnLog("fastcollection initialized")
	})
}

// Shutdown clears the process-wide init guard. It does not close any
// open collection handle — callers remain responsible for Close.
func Shutdown() {
	if initialized.CompareAndSwap(true, false) {
		fnLog("fastcollection shut down")
	}
}

// Version returns the package's semantic-version string.
func Version() string { return version }

// DeleteFile removes path and its sibling interprocess-lock file.
// Missing files are not an error.
func DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fnErrLog("remove %s: %v", path, err)

		return fmt.Errorf("fastcollection: delete %s: %w", path, err)
	}

	if err := os.Remove(path + ".lock"); err != nil && !os.IsNotExist(err) {
		fnErrLog("remove lock file for %s: %v", path, err)
	}

	return nil
}

// IsValidFile reports whether path exists and opens as a well-formed
// FastCollection file: correct magic, version, and header checksum.
func IsValidFile(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	mgr, err := store.Open(path, 0, false)
	if err != nil {
		return false
	}

	_ = mgr.Close()

	return true
}

// CollectionStats reports size and element-count statistics for the
// collection backing path.
type CollectionStats struct {
	TotalSize    uint64
	UsedSize     uint64
	FreeSize     uint64
	ElementCount uint64
	CreatedAt    int64
	ModifiedAt   int64
}

// OpStats is a lock-free, in-memory snapshot of operation counters
// tracked by a single collection handle since it was opened: reads,
// writes, and lookup hits/misses. Unlike CollectionStats it is never
// persisted to the backing file and resets to zero on every open.
type OpStats struct {
	ReadCount  uint64
	WriteCount uint64
	HitCount   uint64
	MissCount  uint64
}

// opStats holds the atomic counters backing a container's OpStats. It
// is embedded by value in List/Set/Map/Queue/Stack; each method that
// reads, mutates, or performs a keyed lookup bumps the relevant
// counter directly, without taking any of the collection's locks.
type opStats struct {
	reads  atomic.Uint64
	writes atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (s *opStats) recordRead()  { s.reads.Add(1) }
func (s *opStats) recordWrite() { s.writes.Add(1) }
func (s *opStats) recordHit()   { s.hits.Add(1) }
func (s *opStats) recordMiss()  { s.misses.Add(1) }

func (s *opStats) snapshot() OpStats {
	return OpStats{
		ReadCount:  s.reads.Load(),
		WriteCount: s.writes.Load(),
		HitCount:   s.hits.Load(),
		MissCount:  s.misses.Load(),
	}
}

// collectionHeaderNames lists every named region a FastCollection file
// may carry its single collection header under. Exactly one of these
// is present in any given file; FileStats probes each in turn to find
// out which container kind the file holds, since the header region's
// name isn't known ahead of opening.
var collectionHeaderNames = []string{
	"list_header",
	"set_header",
	"map_header",
	"queue_header",
	"stack_header",
}

// FileStats opens path read-only (well, via the ordinary mapping — no
// mutation is performed) and reports {total_size, used_size, free_size,
// element_count, created_at, modified_at}.
func FileStats(path string) (CollectionStats, error) {
	if _, err := os.Stat(path); err != nil {
		return CollectionStats{}, translateStoreError(fmt.Errorf("stat %s: %w", path, store.ErrNotFound))
	}

	mgr, err := store.Open(path, 0, false)
	if err != nil {
		return CollectionStats{}, translateStoreError(err)
	}

	defer func() { _ = mgr.Close() }()

	total := mgr.Size()
	used := mgr.HeapUsed()

	var elementCount uint64

	for _, name := range collectionHeaderNames {
		if region, ok := mgr.FindRegion(name); ok {
			elementCount = store.HeaderSize(mgr.At(region.Offset, region.Size))

			break
		}
	}

	return CollectionStats{
		TotalSize:    total,
		UsedSize:     used,
		FreeSize:     total - used,
		ElementCount: elementCount,
		CreatedAt:    mgr.CreatedAt(),
		ModifiedAt:   mgr.ModifiedAt(),
	}, nil
}
