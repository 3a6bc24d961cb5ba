// Package eventloop runs the chunkserver's periodic maintenance work: the
// handful of timers the original drove off its own single-threaded select
// loop's clock (space reporting, idle-chunk sweeping, folder space
// refresh) now each run as their own ticker-driven goroutine.
package eventloop

import (
	"context"
	"time"

	"github.com/quantarax/chunkserver/internal/masterconn"
	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/store"
)

// Loop owns the chunkserver's background timers.
type Loop struct {
	store  *store.Store
	master *masterconn.Conn
	log    *observability.Logger

	SendSpaceInterval time.Duration
	SweepInterval     time.Duration
	RefreshInterval   time.Duration
}

// New builds a Loop with the original's timer cadence: space reports every
// second, the idle-chunk sweep every ten seconds, and a full folder space
// refresh every minute.
func New(st *store.Store, master *masterconn.Conn, log *observability.Logger) *Loop {
	return &Loop{
		store:             st,
		master:            master,
		log:               log,
		SendSpaceInterval: time.Second,
		SweepInterval:     10 * time.Second,
		RefreshInterval:   60 * time.Second,
	}
}

// Run starts every timer and blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	go l.tick(ctx, l.SendSpaceInterval, l.master.BroadcastSpace)
	go l.tick(ctx, l.SweepInterval, l.sweep)
	go l.tick(ctx, l.RefreshInterval, l.refresh)
	<-ctx.Done()
}

func (l *Loop) sweep() {
	_, _, err := l.store.OpenList.SweepIdle(time.Now())
	if err != nil && l.log != nil {
		l.log.Error(err, "idle chunk sweep")
	}
}

func (l *Loop) refresh() {
	l.store.RefreshSpace()
}

func (l *Loop) tick(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
