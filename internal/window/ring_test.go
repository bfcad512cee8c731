package window

import "testing"

func TestRingPushEvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, ok := r.Push(i); ok {
			t.Fatalf("unexpected eviction while filling, pushed %d", i)
		}
	}
	evicted, ok := r.Push(4)
	if !ok || evicted != 1 {
		t.Fatalf("expected eviction of 1, got %d (evicted=%v)", evicted, ok)
	}
	got := r.Values()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("value %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := New[int](5)
	for i := 0; i < 100; i++ {
		r.Push(i)
		if r.Len() > r.Cap() {
			t.Fatalf("length %d exceeded capacity %d after push %d", r.Len(), r.Cap(), i)
		}
	}
	if r.Len() != 5 {
		t.Fatalf("expected full window of 5, got %d", r.Len())
	}
	if r.At(0) != 95 || r.At(4) != 99 {
		t.Fatalf("unexpected window contents: oldest=%d newest=%d", r.At(0), r.At(4))
	}
}

func TestRingLast(t *testing.T) {
	r := New[int](4)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}
	got := r.Last(2)
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Fatalf("expected [5 6], got %v", got)
	}
	if more := r.Last(10); len(more) != 4 {
		t.Fatalf("expected Last to cap at window length, got %d", len(more))
	}
	if empty := r.Last(0); empty != nil {
		t.Fatalf("expected nil for Last(0), got %v", empty)
	}
}

func TestRingMinimumCapacity(t *testing.T) {
	r := New[string](0)
	if r.Cap() != 1 {
		t.Fatalf("expected capacity raised to 1, got %d", r.Cap())
	}
	r.Push("a")
	evicted, ok := r.Push("b")
	if !ok || evicted != "a" {
		t.Fatalf("expected eviction of a, got %q (evicted=%v)", evicted, ok)
	}
}

func TestRingClear(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	r.Push(2)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after clear, got %d", r.Len())
	}
	r.Push(9)
	if r.Len() != 1 || r.At(0) != 9 {
		t.Fatalf("expected ring usable after clear")
	}
}
