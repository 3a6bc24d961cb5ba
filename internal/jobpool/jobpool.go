// Package jobpool implements the bounded worker pool that runs the master
// connection's blocking disk commands (create, delete, set-version,
// truncate, duplicate, replication and the like) off that connection's
// goroutine; their completions come back over a single "wake" channel the
// master connection's loop selects on. Client and peer block reads and
// writes do not go through the pool: connection goroutines call the store
// directly.
package jobpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotDone is the Result.Err value delivered for a job disabled via
// DisableJob/DisableAllForChunk/DisableAll — whether the cancellation
// landed before a worker ever called Fn, or after Fn already ran. Either
// way the caller must treat it as ERROR_NOTDONE, never as a real outcome.
var ErrNotDone = errors.New("jobpool: job disabled")

// Result carries a finished job's outcome back to the event loop.
type Result struct {
	ID      uint32
	ChunkID uint64
	Value   interface{}
	Err     error
}

// Job is one unit of work submitted to the pool. Fn runs on a worker
// goroutine and must not touch event-loop-owned state directly — it
// returns a value the event loop applies once it receives the Result.
type Job struct {
	ChunkID uint64
	Fn      func(ctx context.Context) (interface{}, error)
}

type entry struct {
	id        uint32
	chunkID   uint64
	cancelled int32
}

// Pool is the worker pool plus its job table. The job table is keyed by a
// monotonically increasing id (never reusing 0, which is reserved to mean
// "no job") so a late completion from a disabled job can still be matched
// and discarded.
type Pool struct {
	workers int
	jobs    chan submission
	done    chan Result // the "wake channel" the master connection's loop selects on

	mu     sync.Mutex
	nextID uint32
	table  map[uint32]*entry
	wg     sync.WaitGroup

	tracer trace.Tracer
}

type submission struct {
	entry *entry
	job   Job
}

// New starts a pool of n worker goroutines. doneCap bounds how many
// unconsumed completions may queue before a worker blocks handing one back
// — keep it generous, the event loop is expected to drain it quickly.
func New(n, doneCap int) *Pool {
	p := &Pool{
		workers: n,
		jobs:    make(chan submission, n*4),
		done:    make(chan Result, doneCap),
		table:   make(map[uint32]*entry),
		tracer:  otel.Tracer("chunkserver/jobpool"),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Done returns the channel of job completions; the master connection's
// loop reads from it alongside its incoming frames.
func (p *Pool) Done() <-chan Result { return p.done }

// Submit enqueues a job and returns its id. Ids start at 1 and never wrap
// back to 0.
func (p *Pool) Submit(chunkID uint64, fn func(ctx context.Context) (interface{}, error)) uint32 {
	p.mu.Lock()
	p.nextID++
	if p.nextID == 0 {
		p.nextID = 1
	}
	id := p.nextID
	e := &entry{id: id, chunkID: chunkID}
	p.table[id] = e
	p.mu.Unlock()

	p.jobs <- submission{entry: e, job: Job{ChunkID: chunkID, Fn: fn}}
	observeQueueDepth(len(p.jobs))
	return id
}

// DisableJob marks a job cancelled. If its worker hasn't started Fn yet,
// the pop short-circuits to ERROR_NOTDONE and Fn never runs at all — no
// disk mutation happens. If Fn is already running, there is no preemption
// of in-flight disk I/O, so it runs to completion, but the result that
// reaches Done() is still ErrNotDone rather than whatever Fn returned.
func (p *Pool) DisableJob(id uint32) {
	p.mu.Lock()
	e := p.table[id]
	p.mu.Unlock()
	if e != nil {
		atomic.StoreInt32(&e.cancelled, 1)
	}
}

// DisableAllForChunk disables every currently tracked job against chunkID.
func (p *Pool) DisableAllForChunk(chunkID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.table {
		if e.chunkID == chunkID {
			atomic.StoreInt32(&e.cancelled, 1)
		}
	}
}

// DisableAll disables every currently tracked job regardless of chunk,
// used when the master connection drops: every in-flight master-dispatched
// job's response would otherwise be sent on a connection that no longer
// exists once it reconnects.
func (p *Pool) DisableAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.table {
		atomic.StoreInt32(&e.cancelled, 1)
	}
}

// Pending reports how many submitted jobs have not yet completed.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.table)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for sub := range p.jobs {
		p.run(sub)
	}
}

func (p *Pool) run(sub submission) {
	// A job disabled before this worker ever picked it up short-circuits
	// here: Fn must not run, so no disk mutation happens for a cancelled
	// create/delete/write/etc.
	if atomic.LoadInt32(&sub.entry.cancelled) != 0 {
		p.finish(sub, Result{ID: sub.entry.id, ChunkID: sub.entry.chunkID, Err: ErrNotDone})
		return
	}

	ctx, span := p.tracer.Start(context.Background(), "jobpool.run",
		trace.WithAttributes(attribute.Int64("chunk_id", int64(sub.entry.chunkID))))
	defer span.End()

	val, err := sub.job.Fn(ctx)
	if err != nil {
		span.RecordError(err)
	}

	// DisableJob may have landed while Fn was already running: the disk
	// mutation already happened (there is no preempting it), but the
	// delivered result still reports ERROR_NOTDONE rather than Fn's real
	// outcome, since whatever disabled it no longer wants that outcome.
	if atomic.LoadInt32(&sub.entry.cancelled) != 0 {
		p.finish(sub, Result{ID: sub.entry.id, ChunkID: sub.entry.chunkID, Err: ErrNotDone})
		return
	}

	p.finish(sub, Result{ID: sub.entry.id, ChunkID: sub.entry.chunkID, Value: val, Err: err})
}

// finish retires a job from the table and always delivers its result —
// callers must see ERROR_NOTDONE rather than nothing for a cancelled job.
func (p *Pool) finish(sub submission, res Result) {
	p.mu.Lock()
	delete(p.table, sub.entry.id)
	p.mu.Unlock()

	observeJobOutcome(res.Err == ErrNotDone, res.Err)
	p.done <- res
}

// Close stops accepting new work and waits for every queued and in-flight
// job to finish running. Submit must not be called concurrently with
// Close.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
