package queue

import (
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New(0)
	for i := 0; i < 5; i++ {
		q.Put(Entry{ID: uint32(i)})
	}
	for i := 0; i < 5; i++ {
		e, ok := q.Get()
		if !ok || e.ID != uint32(i) {
			t.Fatalf("got %+v ok=%v, want id=%d", e, ok, i)
		}
	}
}

func TestPutBlocksUntilCapacity(t *testing.T) {
	q := New(10)
	q.Put(Entry{ID: 1, Leng: 8})

	done := make(chan struct{})
	go func() {
		q.Put(Entry{ID: 2, Leng: 8}) // would exceed cap until the first entry is drained
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Put returned before capacity freed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Get()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Put never unblocked after Get freed capacity")
	}
}

func TestCloseDrainsThenReturnsFalse(t *testing.T) {
	q := New(0)
	q.Put(Entry{ID: 1})
	q.Close()

	e, ok := q.Get()
	if !ok || e.ID != 1 {
		t.Fatalf("expected to drain queued entry after close, got %+v ok=%v", e, ok)
	}
	if _, ok := q.Get(); ok {
		t.Fatalf("expected ok=false once drained after close")
	}
	if q.Put(Entry{ID: 2}) {
		t.Fatalf("expected Put to fail after close")
	}
}

func TestMultipleConsumers(t *testing.T) {
	q := New(0)
	const n = 50
	results := make(chan uint32, n)
	for c := 0; c < 4; c++ {
		go func() {
			for {
				e, ok := q.Get()
				if !ok {
					return
				}
				results <- e.ID
			}
		}()
	}
	for i := 0; i < n; i++ {
		q.Put(Entry{ID: uint32(i)})
	}
	seen := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		select {
		case id := <-results:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct ids, want %d", len(seen), n)
	}
	q.Close()
}
