package store

import "sync"

// BucketLocks holds one in-process mutex per hash bucket, guarding
// bucket writers for Set and Map: writes take the per-bucket mutex,
// reads are lock-free. The mutex has no on-disk representation (see
// format.go's Bucket layout comment) and is therefore only effective
// against concurrent writers within this process.
type BucketLocks struct {
	locks []sync.Mutex
}

// NewBucketLocks allocates one mutex per bucket.
func NewBucketLocks(bucketCount uint64) *BucketLocks {
	return &BucketLocks{locks: make([]sync.Mutex, bucketCount)}
}

func (b *BucketLocks) Lock(idx uint64)   { b.locks[idx].Lock() }
func (b *BucketLocks) Unlock(idx uint64) { b.locks[idx].Unlock() }
