package fastcollection_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	fc "github.com/ajsinha/fastcollection"
)

func openTestQueue(t *testing.T) *fc.Queue {
	t.Helper()

	path := filepath.Join(t.TempDir(), "queue.fcs")

	q, err := fc.OpenQueue(path, fc.Options{})
	if err != nil {
		t.Fatalf("OpenQueue failed: %v", err)
	}

	t.Cleanup(func() { _ = q.Close() })

	return q
}

func mustOffer(t *testing.T, q *fc.Queue, s string) {
	t.Helper()

	if err := q.Offer([]byte(s), fc.TTLInfinite); err != nil {
		t.Fatalf("Offer(%q) failed: %v", s, err)
	}
}

func Test_Queue_Offer_Then_Poll_Is_FirstInFirstOut(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")
	mustOffer(t, q, "c")

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Poll()
		if !ok || string(got) != want {
			t.Fatalf("Poll() = %q,%v, want %q,true", got, ok, want)
		}
	}

	if _, ok := q.Poll(); ok {
		t.Error("Poll() on an empty queue returned ok=true")
	}
}

func Test_Queue_OfferFirst_Pushes_To_The_Front(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "second")

	if err := q.OfferFirst([]byte("first"), fc.TTLInfinite); err != nil {
		t.Fatalf("OfferFirst failed: %v", err)
	}

	got, ok := q.Peek()
	if !ok || string(got) != "first" {
		t.Fatalf("Peek() = %q,%v, want %q,true", got, ok, "first")
	}
}

func Test_Queue_PollLast_Removes_From_The_Back(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")

	got, ok := q.PollLast()
	if !ok || string(got) != "b" {
		t.Fatalf("PollLast() = %q,%v, want %q,true", got, ok, "b")
	}

	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
}

func Test_Queue_Peek_And_PeekLast_Do_Not_Remove_Elements(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")

	if front, ok := q.Peek(); !ok || string(front) != "a" {
		t.Fatalf("Peek() = %q,%v, want %q,true", front, ok, "a")
	}

	if back, ok := q.PeekLast(); !ok || string(back) != "b" {
		t.Fatalf("PeekLast() = %q,%v, want %q,true", back, ok, "b")
	}

	if q.Size() != 2 {
		t.Errorf("Size() = %d after two Peeks, want 2 (unchanged)", q.Size())
	}
}

func Test_Queue_Skips_Expired_Nodes_At_The_Front_When_Polling(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)

	if err := q.Offer([]byte("dead1"), 0); err != nil {
		t.Fatalf("Offer failed: %v", err)
	}

	if err := q.Offer([]byte("dead2"), 0); err != nil {
		t.Fatalf("Offer failed: %v", err)
	}

	mustOffer(t, q, "alive")

	got, ok := q.Poll()
	if !ok || string(got) != "alive" {
		t.Fatalf("Poll() = %q,%v, want %q,true (expired front nodes skipped)", got, ok, "alive")
	}
}

func Test_Queue_Skips_Expired_Nodes_At_The_Back_When_Polling_Last(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "alive")

	if err := q.Offer([]byte("dead1"), 0); err != nil {
		t.Fatalf("Offer failed: %v", err)
	}

	if err := q.Offer([]byte("dead2"), 0); err != nil {
		t.Fatalf("Offer failed: %v", err)
	}

	got, ok := q.PollLast()
	if !ok || string(got) != "alive" {
		t.Fatalf("PollLast() = %q,%v, want %q,true (expired back nodes skipped)", got, ok, "alive")
	}
}

func Test_Queue_Take_Blocks_Until_An_Element_Is_Offered_By_Another_Goroutine(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)

	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := q.Take(ctx)
		done <- result{data, err}
	}()

	time.Sleep(20 * time.Millisecond)
	mustOffer(t, q, "arrived")

	select {
	case r := <-done:
		if r.err != nil || string(r.data) != "arrived" {
			t.Fatalf("Take() = %q,%v, want %q,nil", r.data, r.err, "arrived")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Take() did not return after the element was offered")
	}
}

func Test_Queue_PollTimeout_Returns_ErrTimeout_When_Nothing_Arrives(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)

	_, err := q.PollTimeout(30 * time.Millisecond)
	if !errors.Is(err, fc.ErrTimeout) {
		t.Fatalf("PollTimeout() err = %v, want %v", err, fc.ErrTimeout)
	}
}

func Test_Queue_Contains_Reports_Only_Live_Elements(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "present")

	if !q.Contains([]byte("present")) {
		t.Error("Contains(present) = false, want true")
	}

	if q.Contains([]byte("absent")) {
		t.Error("Contains(absent) = true, want false")
	}
}

func Test_Queue_RemoveElement_Removes_The_First_Matching_Occurrence(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "x")
	mustOffer(t, q, "dup")
	mustOffer(t, q, "dup")

	if !q.RemoveElement([]byte("dup")) {
		t.Fatal("RemoveElement(dup) returned false, want true")
	}

	if q.Size() != 2 {
		t.Errorf("Size() = %d, want 2", q.Size())
	}
}

func Test_Queue_Clear_Empties_The_Queue(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")

	q.Clear()

	if !q.IsEmpty() {
		t.Error("IsEmpty() = false after Clear, want true")
	}
}

func Test_Queue_ForEach_Visits_Every_Alive_Element_Front_To_Back(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")
	mustOffer(t, q, "c")

	var visited []string

	q.ForEach(func(data []byte) bool {
		visited = append(visited, string(data))

		return true
	})

	want := []string{"a", "b", "c"}
	if len(visited) != len(want) {
		t.Fatalf("ForEach visited %v, want %v", visited, want)
	}

	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("visited[%d] = %q, want %q", i, visited[i], want[i])
		}
	}
}

func Test_Queue_DrainTo_Removes_Up_To_Max_Elements_In_Order(t *testing.T) {
	t.Parallel()

	q := openTestQueue(t)
	mustOffer(t, q, "a")
	mustOffer(t, q, "b")
	mustOffer(t, q, "c")

	var drained []string

	n := q.DrainTo(func(data []byte) {
		drained = append(drained, string(data))
	}, 2)

	if n != 2 {
		t.Fatalf("DrainTo returned %d, want 2", n)
	}

	if len(drained) != 2 || drained[0] != "a" || drained[1] != "b" {
		t.Fatalf("drained = %v, want [a b]", drained)
	}

	if q.Size() != 1 {
		t.Errorf("Size() after DrainTo(2) = %d, want 1", q.Size())
	}
}
