// Package clientserver implements the chunkserver's single listening port,
// shared by client I/O (CUTOCS_*) and inter-chunkserver traffic (CSTOCS_*)
// exactly as the original protocol multiplexes both over one socket — which
// role a freshly accepted connection plays is decided by its first frame's
// type, not by which port it arrived on.
package clientserver

import (
	"context"
	"net"
	"time"

	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/peerpool"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// Server accepts connections and spawns one goroutine per connection —
// the idiomatic replacement for the original's single event-loop thread
// multiplexing every connection's fd with select/epoll. There is no shared
// mutable per-connection state, so no lock is needed between them; all
// shared state lives in store.Store and is guarded there.
type Server struct {
	listenAddr  string
	store       *store.Store
	peers       *peerpool.Pool
	idleTimeout time.Duration
	log         *observability.Logger
	mx          *observability.Metrics
}

// New builds a Server. idleTimeout governs how long an accepted connection
// may sit without sending a frame (including ANTOAN_NOP keepalives) before
// it is closed.
func New(listenAddr string, st *store.Store, peers *peerpool.Pool, idleTimeout time.Duration, log *observability.Logger, mx *observability.Metrics) *Server {
	return &Server{
		listenAddr:  listenAddr,
		store:       st,
		peers:       peers,
		idleTimeout: idleTimeout,
		log:         log,
		mx:          mx,
	}
}

// Run listens on the configured address and serves connections until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.spawn(ctx, nc)
	}
}

func (s *Server) spawn(ctx context.Context, nc net.Conn) {
	c := &conn{
		nc:          nc,
		writer:      wire.NewWriter(nc, 64),
		store:       s.store,
		peers:       s.peers,
		idleTimeout: s.idleTimeout,
		log:         s.log.WithPeer(nc.RemoteAddr().String()),
		mx:          s.mx,
	}
	if s.mx != nil {
		s.mx.ClientConnsActive.Inc()
	}
	go c.serve(ctx)
}
