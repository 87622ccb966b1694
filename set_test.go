package fastcollection_test

import (
	"path/filepath"
	"testing"

	fc "github.com/ajsinha/fastcollection"
)

func openTestSet(t *testing.T) *fc.Set {
	t.Helper()

	path := filepath.Join(t.TempDir(), "set.fcs")

	s, err := fc.OpenSet(path, fc.Options{BucketCount: 16})
	if err != nil {
		t.Fatalf("OpenSet failed: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func Test_Set_Add_Returns_True_On_First_Insert_And_False_On_A_Live_Duplicate(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)

	if !s.Add([]byte("x"), fc.TTLInfinite) {
		t.Fatal("Add(x) first insert returned false, want true")
	}

	if s.Add([]byte("x"), fc.TTLInfinite) {
		t.Error("Add(x) on an already-live element returned true, want false")
	}

	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1", s.Size())
	}
}

func Test_Set_Add_Revives_An_Expired_Record_In_Place_Rather_Than_Duplicating(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)

	if err := putExpired(s); err != nil {
		t.Fatalf("putExpired failed: %v", err)
	}

	if !s.Add([]byte("revive-me"), fc.TTLInfinite) {
		t.Fatal("Add over an expired record returned false, want true (revive)")
	}

	if s.Size() != 1 {
		t.Errorf("Size() = %d after reviving an expired record, want 1 (not 2)", s.Size())
	}

	if !s.Contains([]byte("revive-me")) {
		t.Error("Contains(\"revive-me\") = false after revive, want true")
	}
}

func putExpired(s *fc.Set) error {
	if !s.Add([]byte("revive-me"), 0) {
		return errNotAdded
	}

	return nil
}

func Test_Set_Remove_Deletes_A_Live_Element_And_Reports_Absence_Afterward(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	s.Add([]byte("y"), fc.TTLInfinite)

	if !s.Remove([]byte("y")) {
		t.Fatal("Remove(y) returned false, want true")
	}

	if s.Contains([]byte("y")) {
		t.Error("Contains(y) = true after Remove, want false")
	}

	if s.Remove([]byte("y")) {
		t.Error("second Remove(y) returned true, want false")
	}
}

func Test_Set_SetTTL_And_GetTTL_Round_Trip(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	s.Add([]byte("z"), 100)

	if !s.SetTTL([]byte("z"), fc.TTLInfinite) {
		t.Fatal("SetTTL failed")
	}

	ttl, ok := s.GetTTL([]byte("z"))
	if !ok || ttl != fc.TTLInfinite {
		t.Errorf("GetTTL(z) = %d,%v, want %d,true", ttl, ok, fc.TTLInfinite)
	}
}

func Test_Set_AddAll_And_RemoveAll_Report_The_Count_Actually_Changed(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)

	items := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	if added := s.AddAll(items, fc.TTLInfinite); added != 3 {
		t.Fatalf("AddAll = %d, want 3", added)
	}

	if added := s.AddAll(items, fc.TTLInfinite); added != 0 {
		t.Errorf("AddAll on an already-present set = %d, want 0", added)
	}

	if removed := s.RemoveAll(items); removed != 3 {
		t.Errorf("RemoveAll = %d, want 3", removed)
	}
}

func Test_Set_RetainIf_Keeps_Only_Elements_Satisfying_The_Predicate(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	s.Add([]byte("keep1"), fc.TTLInfinite)
	s.Add([]byte("drop1"), fc.TTLInfinite)
	s.Add([]byte("keep2"), fc.TTLInfinite)

	s.RetainIf(func(data []byte) bool {
		return string(data) != "drop1"
	})

	if s.Size() != 2 {
		t.Fatalf("Size() after RetainIf = %d, want 2", s.Size())
	}

	if s.Contains([]byte("drop1")) {
		t.Error("Contains(drop1) = true after RetainIf excluded it, want false")
	}
}

func Test_Set_RemoveExpired_Removes_Only_Expired_Elements(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	s.Add([]byte("alive"), fc.TTLInfinite)
	s.Add([]byte("dead"), 0)

	removed := s.RemoveExpired()
	if removed != 1 {
		t.Fatalf("RemoveExpired() = %d, want 1", removed)
	}

	if !s.Contains([]byte("alive")) {
		t.Error("Contains(alive) = false after RemoveExpired, want true")
	}
}

func Test_Set_ToArray_Returns_Every_Alive_Element(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	want := map[string]bool{"a": true, "b": true, "c": true}

	for k := range want {
		s.Add([]byte(k), fc.TTLInfinite)
	}

	got := s.ToArray()
	if len(got) != len(want) {
		t.Fatalf("ToArray() len = %d, want %d", len(got), len(want))
	}

	for _, v := range got {
		if !want[string(v)] {
			t.Errorf("ToArray() contained unexpected element %q", v)
		}
	}
}

func Test_Set_Clear_Removes_Every_Element(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)
	s.Add([]byte("a"), fc.TTLInfinite)
	s.Add([]byte("b"), fc.TTLInfinite)

	s.Clear()

	if !s.IsEmpty() {
		t.Error("IsEmpty() = false after Clear, want true")
	}

	if s.Contains([]byte("a")) {
		t.Error("Contains(a) = true after Clear, want false")
	}
}

func Test_Set_Size_Matches_The_Count_Enumerated_By_ForEach(t *testing.T) {
	t.Parallel()

	s := openTestSet(t)

	for _, v := range []string{"a", "b", "c", "d"} {
		s.Add([]byte(v), fc.TTLInfinite)
	}

	count := 0
	s.ForEach(func([]byte) bool {
		count++

		return true
	})

	if count != s.Size() {
		t.Errorf("ForEach visited %d elements, Size() = %d, want equal", count, s.Size())
	}
}

var errNotAdded = fc.ErrInvalidArgument
