package fastcollection_test

import (
	"path/filepath"
	"testing"

	fc "github.com/ajsinha/fastcollection"
)

func openTestList(t *testing.T) *fc.List {
	t.Helper()

	path := filepath.Join(t.TempDir(), "list.fcs")

	l, err := fc.OpenList(path, fc.Options{})
	if err != nil {
		t.Fatalf("OpenList failed: %v", err)
	}

	t.Cleanup(func() { _ = l.Close() })

	return l
}

func Test_List_Add_Appends_In_Order_When_Called_Repeatedly(t *testing.T) {
	t.Parallel()

	l := openTestList(t)

	for _, s := range []string{"a", "b", "c"} {
		if err := l.Add([]byte(s), fc.TTLInfinite); err != nil {
			t.Fatalf("Add(%q) failed: %v", s, err)
		}
	}

	if l.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", l.Size())
	}

	for i, want := range []string{"a", "b", "c"} {
		got, ok := l.Get(i)
		if !ok {
			t.Fatalf("Get(%d) = not found, want %q", i, want)
		}

		if string(got) != want {
			t.Errorf("Get(%d) = %q, want %q", i, got, want)
		}
	}
}

func Test_List_AddFirst_Prepends_To_The_Head(t *testing.T) {
	t.Parallel()

	l := openTestList(t)

	mustAdd(t, l, "middle")
	mustAddFirst(t, l, "first")

	got, ok := l.GetFirst()
	if !ok || string(got) != "first" {
		t.Fatalf("GetFirst() = %q,%v, want %q,true", got, ok, "first")
	}
}

func Test_List_AddAt_Inserts_Before_The_Given_Index(t *testing.T) {
	t.Parallel()

	l := openTestList(t)

	mustAdd(t, l, "a")
	mustAdd(t, l, "c")

	if err := l.AddAt(1, []byte("b"), fc.TTLInfinite); err != nil {
		t.Fatalf("AddAt(1) failed: %v", err)
	}

	for i, want := range []string{"a", "b", "c"} {
		got, ok := l.Get(i)
		if !ok || string(got) != want {
			t.Errorf("Get(%d) = %q,%v, want %q,true", i, got, ok, want)
		}
	}
}

func Test_List_AddAt_Returns_ErrIndexOutOfBounds_When_Index_Exceeds_Size(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "only")

	if err := l.AddAt(5, []byte("x"), fc.TTLInfinite); err == nil {
		t.Error("AddAt(5) on a 1-element list succeeded, want ErrIndexOutOfBounds")
	}
}

func Test_List_Get_Walking_Forward_And_Backward_Visits_The_Same_Elements(t *testing.T) {
	t.Parallel()

	l := openTestList(t)

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		mustAdd(t, l, s)
	}

	// Forward walk.
	for i, w := range want {
		got, ok := l.Get(i)
		if !ok || string(got) != w {
			t.Fatalf("forward Get(%d) = %q,%v, want %q,true", i, got, ok, w)
		}
	}

	// Backward walk exercises the access cache's "index-1" path.
	for i := len(want) - 1; i >= 0; i-- {
		got, ok := l.Get(i)
		if !ok || string(got) != want[i] {
			t.Fatalf("backward Get(%d) = %q,%v, want %q,true", i, got, ok, want[i])
		}
	}
}

func Test_List_Set_With_SameSize_Payload_Updates_In_Place(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "aaa")

	if err := l.Set(0, []byte("bbb"), fc.TTLInfinite); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := l.Get(0)
	if !ok || string(got) != "bbb" {
		t.Fatalf("Get(0) after Set = %q,%v, want %q,true", got, ok, "bbb")
	}

	if l.Size() != 1 {
		t.Errorf("Size() after same-size Set = %d, want 1", l.Size())
	}
}

func Test_List_Set_With_DifferentSize_Payload_Reallocates_At_The_Same_Position(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "bb")
	mustAdd(t, l, "ccc")

	if err := l.Set(1, []byte("much-longer-value"), fc.TTLInfinite); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := l.Get(1)
	if !ok || string(got) != "much-longer-value" {
		t.Fatalf("Get(1) after resizing Set = %q,%v", got, ok)
	}

	if got, ok := l.Get(0); !ok || string(got) != "a" {
		t.Errorf("Get(0) after resizing Set(1) = %q,%v, want %q,true", got, ok, "a")
	}

	if got, ok := l.Get(2); !ok || string(got) != "ccc" {
		t.Errorf("Get(2) after resizing Set(1) = %q,%v, want %q,true", got, ok, "ccc")
	}
}

func Test_List_Remove_Shrinks_Size_And_Shifts_Later_Indices(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "b")
	mustAdd(t, l, "c")

	removed, ok := l.Remove(1)
	if !ok || string(removed) != "b" {
		t.Fatalf("Remove(1) = %q,%v, want %q,true", removed, ok, "b")
	}

	if l.Size() != 2 {
		t.Fatalf("Size() after Remove = %d, want 2", l.Size())
	}

	if got, ok := l.Get(1); !ok || string(got) != "c" {
		t.Errorf("Get(1) after removing index 1 = %q,%v, want %q,true", got, ok, "c")
	}
}

func Test_List_RemoveFirst_And_RemoveLast_Pop_Opposite_Ends(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "b")
	mustAdd(t, l, "c")

	first, ok := l.RemoveFirst()
	if !ok || string(first) != "a" {
		t.Fatalf("RemoveFirst() = %q,%v, want %q,true", first, ok, "a")
	}

	last, ok := l.RemoveLast()
	if !ok || string(last) != "c" {
		t.Fatalf("RemoveLast() = %q,%v, want %q,true", last, ok, "c")
	}

	if l.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", l.Size())
	}
}

func Test_List_RemoveElement_Removes_Only_The_First_Occurrence(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "x")
	mustAdd(t, l, "dup")
	mustAdd(t, l, "dup")

	if !l.RemoveElement([]byte("dup")) {
		t.Fatal("RemoveElement(\"dup\") returned false, want true")
	}

	if l.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", l.Size())
	}

	if !l.Contains([]byte("dup")) {
		t.Error("Contains(\"dup\") = false after removing only one occurrence, want true")
	}
}

func Test_List_IndexOf_And_LastIndexOf_Return_First_And_Last_Match(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "b")
	mustAdd(t, l, "a")

	if idx := l.IndexOf([]byte("a")); idx != 0 {
		t.Errorf("IndexOf(\"a\") = %d, want 0", idx)
	}

	if idx := l.LastIndexOf([]byte("a")); idx != 2 {
		t.Errorf("LastIndexOf(\"a\") = %d, want 2", idx)
	}

	if idx := l.IndexOf([]byte("missing")); idx != -1 {
		t.Errorf("IndexOf(\"missing\") = %d, want -1", idx)
	}
}

func Test_List_Element_With_Zero_TTL_Is_Immediately_Invisible(t *testing.T) {
	t.Parallel()

	l := openTestList(t)

	if err := l.Add([]byte("gone"), 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if l.Size() != 0 {
		t.Errorf("Size() = %d, want 0 for an element added with ttl=0", l.Size())
	}

	if _, ok := l.Get(0); ok {
		t.Error("Get(0) found an element with ttl=0, want not found")
	}
}

func Test_List_RemoveExpired_Removes_Only_Expired_Elements_And_Returns_Their_Count(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "alive")

	if err := l.Add([]byte("dead1"), 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := l.Add([]byte("dead2"), 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	removed := l.RemoveExpired()
	if removed != 2 {
		t.Errorf("RemoveExpired() = %d, want 2", removed)
	}

	if l.Size() != 1 {
		t.Errorf("Size() after RemoveExpired = %d, want 1", l.Size())
	}
}

func Test_List_Clear_Empties_The_List(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "b")

	l.Clear()

	if !l.IsEmpty() {
		t.Error("IsEmpty() = false after Clear, want true")
	}

	if _, ok := l.GetFirst(); ok {
		t.Error("GetFirst() found an element after Clear, want not found")
	}
}

func Test_List_ForEach_Visits_Every_Alive_Element_In_Order_And_Stops_Early(t *testing.T) {
	t.Parallel()

	l := openTestList(t)
	mustAdd(t, l, "a")
	mustAdd(t, l, "b")
	mustAdd(t, l, "c")

	var visited []string

	l.ForEach(func(data []byte) bool {
		visited = append(visited, string(data))

		return len(visited) < 2
	})

	if len(visited) != 2 {
		t.Fatalf("ForEach visited %d elements before stopping, want 2", len(visited))
	}

	if visited[0] != "a" || visited[1] != "b" {
		t.Errorf("ForEach order = %v, want [a b]", visited)
	}
}

func Test_List_Reopen_Preserves_Elements_Across_Close_And_Open(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen_list.fcs")

	l1, err := fc.OpenList(path, fc.Options{})
	if err != nil {
		t.Fatalf("OpenList(first) failed: %v", err)
	}

	mustAdd(t, l1, "persisted")

	if err := l1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l2, err := fc.OpenList(path, fc.Options{})
	if err != nil {
		t.Fatalf("OpenList(reopen) failed: %v", err)
	}

	defer func() { _ = l2.Close() }()

	got, ok := l2.Get(0)
	if !ok || string(got) != "persisted" {
		t.Fatalf("Get(0) after reopen = %q,%v, want %q,true", got, ok, "persisted")
	}
}

func mustAdd(t *testing.T, l *fc.List, s string) {
	t.Helper()

	if err := l.Add([]byte(s), fc.TTLInfinite); err != nil {
		t.Fatalf("Add(%q) failed: %v", s, err)
	}
}

func mustAddFirst(t *testing.T, l *fc.List, s string) {
	t.Helper()

	if err := l.AddFirst([]byte(s), fc.TTLInfinite); err != nil {
		t.Fatalf("AddFirst(%q) failed: %v", s, err)
	}
}
