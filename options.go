package fastcollection

// Options configures how a container opens or creates its backing file.
// Zero values select sensible defaults (see each Open* constructor).
type Options struct {
	// InitialBytes is the size the backing file is truncated to when it
	// is created. Zero selects the store package's default (1 MiB).
	InitialBytes uint64

	// CreateNew forces creation of a fresh file even if one already
	// exists at the path, discarding its contents.
	CreateNew bool

	// BucketCount is the number of hash buckets for Set and Map. Zero
	// selects ComputeBucketCount's default (currently 16384), rounded up
	// to a power of two. Ignored by List, Queue, and Stack.
	BucketCount uint64
}

// TTLInfinite is the library-wide sentinel meaning "never expires".
const TTLInfinite int64 = -1
