package store

import "testing"

func Test_InitListHeader_Starts_With_Empty_Head_And_Tail(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ListHeaderSize)
	InitListHeader(buf)

	if ListHead(buf) != sentinelInt || ListTail(buf) != sentinelInt {
		t.Errorf("head/tail = %d/%d, want both %d", ListHead(buf), ListTail(buf), sentinelInt)
	}

	if HeaderSize(buf) != 0 {
		t.Errorf("HeaderSize() = %d, want 0", HeaderSize(buf))
	}

	if err := ValidateCollectionHeader(buf, KindList); err != nil {
		t.Errorf("ValidateCollectionHeader failed on a freshly initialized header: %v", err)
	}
}

func Test_ValidateCollectionHeader_Rejects_A_Mismatched_Kind(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ListHeaderSize)
	InitListHeader(buf)

	if err := ValidateCollectionHeader(buf, KindSet); err == nil {
		t.Error("ValidateCollectionHeader(wrong kind) succeeded, want an error")
	}
}

func Test_HeaderSizeAdd_Tracks_Positive_And_Negative_Deltas(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ListHeaderSize)
	InitListHeader(buf)

	HeaderSizeAdd(buf, 3)
	HeaderSizeAdd(buf, -1)

	if HeaderSize(buf) != 2 {
		t.Errorf("HeaderSize() = %d, want 2", HeaderSize(buf))
	}
}

func Test_InitDequeHeader_Starts_With_Empty_Front_And_Back(t *testing.T) {
	t.Parallel()

	buf := make([]byte, DequeHeaderSize)
	InitDequeHeader(buf, KindQueue)

	if DequeFront(buf) != sentinelInt || DequeBack(buf) != sentinelInt {
		t.Errorf("front/back = %d/%d, want both %d", DequeFront(buf), DequeBack(buf), sentinelInt)
	}
}

func Test_CasDequeFront_Succeeds_Only_When_The_Old_Value_Matches(t *testing.T) {
	t.Parallel()

	buf := make([]byte, DequeHeaderSize)
	InitDequeHeader(buf, KindStack)

	if !CasDequeFront(buf, sentinelInt, 128) {
		t.Fatal("CasDequeFront(sentinel, 128) failed, want success")
	}

	if CasDequeFront(buf, sentinelInt, 256) {
		t.Error("CasDequeFront with a stale expected value succeeded, want failure")
	}

	if DequeFront(buf) != 128 {
		t.Errorf("DequeFront() = %d, want 128", DequeFront(buf))
	}
}

func Test_InitHashHeader_Records_The_Requested_Bucket_Count(t *testing.T) {
	t.Parallel()

	buf := make([]byte, HashHeaderSize)
	InitHashHeader(buf, uint64(KindSet), 256)

	if HashBucketCount(buf) != 256 {
		t.Errorf("HashBucketCount() = %d, want 256", HashBucketCount(buf))
	}

	if HashTotalBytes(buf) != 0 {
		t.Errorf("HashTotalBytes() = %d, want 0", HashTotalBytes(buf))
	}
}

func Test_ComputeBucketCount_Rounds_Up_To_The_Next_Power_Of_Two(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint uint64
		want uint64
	}{
		{0, 16384},
		{1, 2},
		{2, 2},
		{3, 4},
		{1000, 1024},
		{1025, 2048},
	}

	for _, tt := range tests {
		if got := ComputeBucketCount(tt.hint); got != tt.want {
			t.Errorf("ComputeBucketCount(%d) = %d, want %d", tt.hint, got, tt.want)
		}
	}
}

func Test_InitBuckets_Sets_Every_Bucket_Head_To_The_Null_Sentinel(t *testing.T) {
	t.Parallel()

	const count = 16

	buf := make([]byte, count*BucketSize)
	InitBuckets(buf, count)

	for i := uint64(0); i < count; i++ {
		if BucketHead(buf, i) != sentinelInt {
			t.Errorf("BucketHead(%d) = %d, want %d", i, BucketHead(buf, i), sentinelInt)
		}
	}
}

func Test_CasBucketHead_And_BucketCountAdd_Track_A_Single_Bucket_Independently(t *testing.T) {
	t.Parallel()

	const count = 4

	buf := make([]byte, count*BucketSize)
	InitBuckets(buf, count)

	if !CasBucketHead(buf, 2, sentinelInt, 512) {
		t.Fatal("CasBucketHead on bucket 2 failed")
	}

	BucketCountAdd(buf, 2, 1)

	for i := uint64(0); i < count; i++ {
		if i == 2 {
			continue
		}

		if BucketHead(buf, i) != sentinelInt {
			t.Errorf("unrelated bucket %d head = %d, want untouched sentinel", i, BucketHead(buf, i))
		}

		if BucketCount(buf, i) != 0 {
			t.Errorf("unrelated bucket %d count = %d, want 0", i, BucketCount(buf, i))
		}
	}

	if BucketHead(buf, 2) != 512 || BucketCount(buf, 2) != 1 {
		t.Errorf("bucket 2 head/count = %d/%d, want 512/1", BucketHead(buf, 2), BucketCount(buf, 2))
	}
}
