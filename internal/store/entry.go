package store

import "time"

// EntryHeader mirrors the on-disk 64-byte Entry-header. It is a
// convenience value type for callers; the authoritative bytes always
// live in the mapped file and are read/written through the offset-based
// helpers below.
type EntryHeader struct {
	State     uint32
	DataSize  uint32
	HashCode  uint32
	TTL       int64
	CreatedAt int64
	ExpiresAt int64
	Version   uint64
}

// NewEntryHeader computes an EntryHeader for a fresh record with the
// given payload and TTL: ttl < 0 means infinite, ttl == 0 means
// already-expired, ttl > 0 means visible for exactly that many seconds
// from now.
func NewEntryHeader(hash uint32, dataSize uint32, ttlSeconds int64) EntryHeader {
	now := time.Now().UnixNano()

	var expiresAt int64
	if ttlSeconds >= 0 {
		expiresAt = now + ttlSeconds*int64(time.Second)
		if expiresAt == 0 {
			// Avoid colliding with the "never" sentinel on the
			// exceedingly unlikely now==0 boundary.
			expiresAt = 1
		}
	}

	return EntryHeader{
		State:     StateWriting,
		DataSize:  dataSize,
		HashCode:  hash,
		TTL:       ttlSeconds,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
}

// IsAlive reports whether an entry with this header is visible now:
// state == Valid and not past its expiry.
func (h EntryHeader) IsAlive(nowNanos int64) bool {
	if h.State != StateValid {
		return false
	}

	return h.ExpiresAt == 0 || nowNanos < h.ExpiresAt
}

// writeEntryHeader serializes h into buf at offset 0 (buf must be at
// least EntryHeaderSize bytes). State is written last via an atomic
// release store, publishing the record per the Empty->Writing->Valid
// lifecycle.
//
// offEntryVersion is deliberately left untouched here: it is a
// monotonic generation tag that must survive free/reuse cycles of the
// same heap slot (see bumpVersion), so a fresh write never resets it.
func writeEntryHeader(buf []byte, h EntryHeader) {
	putU32(buf, offEntryDataSize, h.DataSize)
	putU32(buf, offEntryHashCode, h.HashCode)
	putI64(buf, offEntryTTL, h.TTL)
	putI64(buf, offEntryCreatedAt, h.CreatedAt)
	putI64(buf, offEntryExpiresAt, h.ExpiresAt)
	storeU32(buf, offEntryState, h.State)
}

// readEntryHeader deserializes the Entry-header at the start of buf.
func readEntryHeader(buf []byte) EntryHeader {
	return EntryHeader{
		State:     loadU32(buf, offEntryState),
		DataSize:  getU32(buf, offEntryDataSize),
		HashCode:  getU32(buf, offEntryHashCode),
		TTL:       getI64(buf, offEntryTTL),
		CreatedAt: getI64(buf, offEntryCreatedAt),
		ExpiresAt: getI64(buf, offEntryExpiresAt),
		Version:   loadU64(buf, offEntryVersion),
	}
}

// publishValid performs the Writing->Valid release transition. It also
// bumps the generation tag, so every record that ever becomes visible
// at a given heap slot gets a distinct version from whatever occupied
// that slot before it.
func publishValid(buf []byte) {
	bumpVersion(buf)
	storeU32(buf, offEntryState, StateValid)
}

// PublishValid is the exported form of publishValid, for container
// packages that write a freshly allocated record's fields themselves
// before publishing it.
func PublishValid(buf []byte) { publishValid(buf) }

// MarkDeleted transitions a record to state Deleted prior to unlinking.
func MarkDeleted(buf []byte) { markState(buf, StateDeleted) }

// MarkDeletedAndFree marks the record at buf Deleted and returns its
// storage to mgr's heap. offset must be the payload offset originally
// returned by Manager.Allocate for this record.
func MarkDeletedAndFree(mgr *Manager, offset int64, buf []byte) {
	MarkDeleted(buf)
	_ = mgr.Deallocate(uint64(offset))
}

// RebaseTTL updates an alive record's TTL in place, rebasing created_at
// to now.
func RebaseTTL(buf []byte, ttlSeconds int64) {
	now := time.Now().UnixNano()

	var expiresAt int64
	if ttlSeconds >= 0 {
		expiresAt = now + ttlSeconds*int64(time.Second)
		if expiresAt == 0 {
			expiresAt = 1
		}
	}

	putI64(buf, offEntryTTL, ttlSeconds)
	putI64(buf, offEntryCreatedAt, now)
	storeI64(buf, offEntryExpiresAt, expiresAt)
	bumpVersion(buf)
}

// markState atomically sets the entry's state field.
func markState(buf []byte, state uint32) {
	storeU32(buf, offEntryState, state)
}

// loadState atomically reads the entry's state field.
func loadState(buf []byte) uint32 {
	return loadU32(buf, offEntryState)
}

// bumpVersion atomically increments the entry's version/generation tag,
// used for optimistic-read bookkeeping.
func bumpVersion(buf []byte) uint64 {
	return addU64(buf, offEntryVersion, 1)
}

func loadVersion(buf []byte) uint64 {
	return loadU64(buf, offEntryVersion)
}

// LoadVersion exposes loadVersion to container packages that need to
// detect whether a heap slot has been freed and reused since they last
// read it. No container in this module calls it.
func LoadVersion(buf []byte) uint64 { return loadVersion(buf) }

// --- Node ---

// NodeSize returns the total aligned size of a Node record holding
// dataSize payload bytes.
func NodeSize(dataSize uint32) uint64 {
	return align64(uint64(NodeFixedSize) + uint64(dataSize))
}

// WriteNode initializes a fresh Node at buf (len(buf) >= NodeSize(len(data))):
// header, prev/next links, and the inline payload.
func WriteNode(buf []byte, h EntryHeader, prev, next int64, data []byte) {
	writeEntryHeader(buf, h)
	storeI64(buf, offNodePrev, prev)
	storeI64(buf, offNodeNext, next)
	copy(buf[NodeFixedSize:], data)
}

func NodeHeader(buf []byte) EntryHeader { return readEntryHeader(buf) }

func NodePrev(buf []byte) int64  { return loadI64(buf, offNodePrev) }
func NodeNext(buf []byte) int64  { return loadI64(buf, offNodeNext) }
func SetNodePrev(buf []byte, v int64) { storeI64(buf, offNodePrev, v) }
func SetNodeNext(buf []byte, v int64) { storeI64(buf, offNodeNext, v) }

func CasNodePrev(buf []byte, old, new int64) bool { return casI64(buf, offNodePrev, old, new) }
func CasNodeNext(buf []byte, old, new int64) bool { return casI64(buf, offNodeNext, old, new) }

// NodePayload returns the inline payload bytes for a Node whose header
// reports dataSize bytes.
func NodePayload(buf []byte, dataSize uint32) []byte {
	return buf[NodeFixedSize : uint64(NodeFixedSize)+uint64(dataSize)]
}

// --- KeyValue ---

// KVSize returns the total aligned size of a KeyValue record holding the
// given key and value lengths.
func KVSize(keySize, valueSize uint32) uint64 {
	return align64(uint64(KVFixedSize) + uint64(keySize) + uint64(valueSize))
}

// KVTotalSize returns the total aligned size of a KeyValue record given
// only its Entry-header data_size (key_size + value_size combined), for
// callers resolving a record's extent from its header alone.
func KVTotalSize(dataSize uint32) uint64 {
	return align64(uint64(KVFixedSize) + uint64(dataSize))
}

// WriteKeyValue initializes a fresh KeyValue record.
func WriteKeyValue(buf []byte, h EntryHeader, prev, next int64, key, value []byte) {
	writeEntryHeader(buf, h)
	storeI64(buf, offKVPrev, prev)
	storeI64(buf, offKVNext, next)
	putU32(buf, offKVKeySize, uint32(len(key)))
	putU32(buf, offKVValueSize, uint32(len(value)))
	copy(buf[KVFixedSize:], key)
	copy(buf[KVFixedSize+len(key):], value)
}

func KVHeader(buf []byte) EntryHeader { return readEntryHeader(buf) }

func KVPrev(buf []byte) int64 { return loadI64(buf, offKVPrev) }
func KVNext(buf []byte) int64 { return loadI64(buf, offKVNext) }
func SetKVPrev(buf []byte, v int64) { storeI64(buf, offKVPrev, v) }
func SetKVNext(buf []byte, v int64) { storeI64(buf, offKVNext, v) }

func KVKeySize(buf []byte) uint32   { return getU32(buf, offKVKeySize) }
func KVValueSize(buf []byte) uint32 { return getU32(buf, offKVValueSize) }

func KVKey(buf []byte) []byte {
	return buf[KVFixedSize : KVFixedSize+int(KVKeySize(buf))]
}

func KVValue(buf []byte) []byte {
	ks := int(KVKeySize(buf))

	return buf[KVFixedSize+ks : KVFixedSize+ks+int(KVValueSize(buf))]
}

// OverwriteKVValue replaces the value bytes in place. Callers must
// ensure newValue is exactly the same length as the existing value (the
// same-size update fast path); otherwise a new record must be
// allocated.
func OverwriteKVValue(buf []byte, newValue []byte) {
	copy(KVValue(buf), newValue)
}
