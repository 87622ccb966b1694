package store

import (
	"path/filepath"
	"testing"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "heap.fcs")

	mgr, err := Open(path, 0, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Cleanup(func() { _ = mgr.Close() })

	return mgr
}

func Test_Allocate_Returns_NonOverlapping_Offsets_When_Called_Repeatedly(t *testing.T) {
	t.Parallel()

	mgr := openTestManager(t)

	sizes := []uint32{16, 64, 128, 1, 4096}
	offsets := make(map[uint64]uint32)

	for _, size := range sizes {
		off, err := mgr.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d) failed: %v", size, err)
		}

		for existingOff, existingSize := range offsets {
			lo, hi := off, off+uint64(size)
			existingLo, existingHi := existingOff, existingOff+uint64(existingSize)

			if lo < existingHi && existingLo < hi {
				t.Fatalf("allocation [%d,%d) overlaps earlier allocation [%d,%d)", lo, hi, existingLo, existingHi)
			}
		}

		offsets[off] = size
	}
}

func Test_Allocate_Then_Deallocate_Reduces_HeapUsed_Back_To_Baseline(t *testing.T) {
	t.Parallel()

	mgr := openTestManager(t)

	baseline := mgr.HeapUsed()

	off, err := mgr.Allocate(256)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if mgr.HeapUsed() <= baseline {
		t.Fatalf("HeapUsed() after Allocate = %d, want > baseline %d", mgr.HeapUsed(), baseline)
	}

	if err := mgr.Deallocate(off); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}

	if mgr.HeapUsed() != baseline {
		t.Errorf("HeapUsed() after Deallocate = %d, want baseline %d", mgr.HeapUsed(), baseline)
	}
}

func Test_Allocate_Reuses_A_Freed_Block_Of_The_Same_Size_Class(t *testing.T) {
	t.Parallel()

	mgr := openTestManager(t)

	first, err := mgr.Allocate(96)
	if err != nil {
		t.Fatalf("Allocate(first) failed: %v", err)
	}

	if err := mgr.Deallocate(first); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}

	second, err := mgr.Allocate(96)
	if err != nil {
		t.Fatalf("Allocate(second) failed: %v", err)
	}

	if second != first {
		t.Errorf("Allocate after Deallocate returned offset %d, want the freed offset %d", second, first)
	}
}

func Test_Allocate_Grows_The_File_When_The_Heap_Is_Exhausted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "small.fcs")

	mgr, err := Open(path, 64<<10, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	defer func() { _ = mgr.Close() }()

	sizeBefore := mgr.Size()

	if _, err := mgr.Allocate(128 << 10); err != nil {
		t.Fatalf("Allocate(oversized) failed: %v", err)
	}

	if mgr.Size() <= sizeBefore {
		t.Errorf("Size() after an oversized Allocate = %d, want > %d", mgr.Size(), sizeBefore)
	}
}

func Test_Allocate_Rejects_Zero_Length_Requests(t *testing.T) {
	t.Parallel()

	mgr := openTestManager(t)

	if _, err := mgr.Allocate(0); err == nil {
		t.Error("Allocate(0) succeeded, want ErrInvalidArgument")
	}
}

func Test_SizeClassOf_Is_Monotonically_NonDecreasing_In_Size(t *testing.T) {
	t.Parallel()

	prev := sizeClassOf(minBlockSize)

	for size := uint64(minBlockSize); size < minBlockSize<<10; size += 37 {
		class := sizeClassOf(size)
		if class < prev {
			t.Fatalf("sizeClassOf(%d) = %d, want >= previous class %d", size, class, prev)
		}

		prev = class
	}
}

func Test_FreeSpace_Decreases_By_The_Allocated_Amount(t *testing.T) {
	t.Parallel()

	mgr := openTestManager(t)

	before := mgr.FreeSpace()

	off, err := mgr.Allocate(512)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	after := mgr.FreeSpace()
	if after >= before {
		t.Errorf("FreeSpace() after Allocate = %d, want < %d", after, before)
	}

	if err := mgr.Deallocate(off); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}

	if mgr.FreeSpace() != before {
		t.Errorf("FreeSpace() after Deallocate = %d, want back to %d", mgr.FreeSpace(), before)
	}
}
