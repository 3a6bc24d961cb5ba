package jobpool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitDeliversResult(t *testing.T) {
	p := New(2, 8)
	defer p.Close()

	p.Submit(1, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})

	select {
	case r := <-p.Done():
		if r.ChunkID != 1 || r.Value.(int) != 42 || r.Err != nil {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestDisableJobAfterStartStillRunsButDeliversNotDone(t *testing.T) {
	p := New(1, 8)
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	ran := make(chan struct{})
	id := p.Submit(2, func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		close(ran)
		return 99, nil
	})
	<-started
	p.DisableJob(id)
	close(release)

	select {
	case r := <-p.Done():
		if r.Err != ErrNotDone {
			t.Fatalf("want ErrNotDone, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	select {
	case <-ran:
	default:
		t.Fatal("Fn should still have run to completion once started")
	}
}

func TestDisableJobBeforeStartSkipsFnAndDeliversNotDone(t *testing.T) {
	p := New(1, 8)
	defer p.Close()

	// Occupy the single worker so the next submission sits in the queue
	// and gets disabled before that worker ever picks it up.
	occupied := make(chan struct{})
	holdRelease := make(chan struct{})
	p.Submit(1, func(ctx context.Context) (interface{}, error) {
		close(occupied)
		<-holdRelease
		return nil, nil
	})
	<-occupied

	ranCh := make(chan struct{}, 1)
	id := p.Submit(2, func(ctx context.Context) (interface{}, error) {
		ranCh <- struct{}{}
		return nil, nil
	})
	p.DisableJob(id)
	close(holdRelease)

	// Drain the first job's (real) result before looking for the second.
	<-p.Done()

	select {
	case r := <-p.Done():
		if r.ID != id {
			t.Fatalf("want result for job %d, got %+v", id, r)
		}
		if r.Err != ErrNotDone {
			t.Fatalf("want ErrNotDone, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	select {
	case <-ranCh:
		t.Fatal("Fn must not run for a job disabled before it started")
	default:
	}
}

func TestIDsNeverReuseZero(t *testing.T) {
	p := New(1, 8)
	defer p.Close()

	for i := 0; i < 5; i++ {
		id := p.Submit(uint64(i), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		if id == 0 {
			t.Fatal("job id must never be 0")
		}
		<-p.Done()
	}
}

func TestErrorPropagates(t *testing.T) {
	p := New(1, 8)
	defer p.Close()

	wantErr := errors.New("disk full")
	p.Submit(3, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	r := <-p.Done()
	if r.Err != wantErr {
		t.Fatalf("want %v, got %v", wantErr, r.Err)
	}
}

func TestDisableAllForChunk(t *testing.T) {
	p := New(3, 8)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		p.Submit(9, func(ctx context.Context) (interface{}, error) {
			started <- struct{}{}
			<-release
			return nil, nil
		})
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	p.DisableAllForChunk(9)
	close(release)

	for i := 0; i < 3; i++ {
		select {
		case r := <-p.Done():
			if r.Err != ErrNotDone {
				t.Fatalf("want ErrNotDone, got %+v", r)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
}
