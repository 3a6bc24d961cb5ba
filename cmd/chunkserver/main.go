// Command chunkserver is the storage daemon: it owns a set of local disk
// folders, serves client read/write traffic and peer replication on one
// listening port, and maintains a registered connection to the master so
// the cluster knows what it holds.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantarax/chunkserver/internal/adminapi"
	"github.com/quantarax/chunkserver/internal/charts"
	"github.com/quantarax/chunkserver/internal/clientserver"
	"github.com/quantarax/chunkserver/internal/config"
	"github.com/quantarax/chunkserver/internal/eventloop"
	"github.com/quantarax/chunkserver/internal/jobpool"
	"github.com/quantarax/chunkserver/internal/masterconn"
	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/peerpool"
	"github.com/quantarax/chunkserver/internal/pidlock"
	"github.com/quantarax/chunkserver/internal/replicator"
	"github.com/quantarax/chunkserver/internal/store"
)

const serviceVersion = "1.0.0"

func main() {
	hddConf := flag.String("hdd-conf", "", "override HDD_CONF_FILENAME")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *hddConf != "" {
		folders, err := config.ParseHDDConf(*hddConf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		cfg.Folders = folders
	}

	lock, err := pidlock.Acquire(cfg.LockFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	log := observability.NewLogger("chunkserver", serviceVersion, os.Stdout)
	mx := observability.NewMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), "chunkserver")
	if err != nil {
		log.Error(err, "failed to init tracing, continuing without it")
		shutdownTracing = func(context.Context) error { return nil }
	}

	health := observability.NewHealthChecker(serviceVersion)

	st := store.NewStore(&damageReporter{})
	for _, fc := range cfg.Folders {
		if err := st.AddFolder(fc.Path, fc.ToDelete, fc.LeaveFree); err != nil {
			log.Fatal(err, "failed to add folder "+fc.Path)
		}
	}
	if len(cfg.Folders) == 0 {
		log.Warn("no folders configured, set HDD_CONF_FILENAME")
	}
	if err := st.Init(); err != nil {
		log.Fatal(err, "failed to scan folders")
	}
	health.RegisterCheck("folders", observability.FoldersCheck(
		func() int { return countDamaged(st) },
		func() int { return len(st.Folders) },
	))

	if cfg.ChunkIndexBoltPath != "" {
		idx2, err := store.OpenBoltIndex(cfg.ChunkIndexBoltPath)
		if err != nil {
			log.Fatal(err, "failed to open shadow chunk index")
		}
		st.Index2 = idx2
		defer idx2.Close()
	}

	cl, err := masterconn.NewChangelog(cfg.DataPath, cfg.BackLogs)
	if err != nil {
		log.Fatal(err, "failed to open changelog")
	}
	defer cl.Close()

	pool := jobpool.New(cfg.WorkerCount, cfg.QueueDepth)
	defer pool.Close()

	peers := peerpool.New(cfg.PeerTimeout, mx)

	listen := masterconn.ListenInfo{IP: resolveListenIP(cfg.ListenHost), Port: uint16(cfg.ListenPort)}
	master := masterconn.New(
		fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort),
		listen, cfg.MasterReconnectionDelay, st, pool, log, mx, cl,
	)
	health.RegisterCheck("master", observability.MasterConnCheck(master.Connected, cfg.MasterHost))

	repl := replicator.New(st, peers, cfg.PeerTimeout, log)
	master.SetReplicator(repl)

	cs := clientserver.New(fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort), st, peers, cfg.ClientTimeout, log, mx)

	loop := eventloop.New(st, master, log)

	admin := adminapi.New(st, pool)

	var chartStore *charts.Store
	if cfg.StatsDBPath != "" {
		chartStore, err = charts.Open(cfg.StatsDBPath)
		if err != nil {
			log.Fatal(err, "failed to open stats database")
		}
		defer chartStore.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return cs.Run(gctx)
	})
	group.Go(func() error {
		master.Run(gctx)
		return nil
	})
	group.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	group.Go(func() error {
		return runMetricsServer(gctx, fmt.Sprintf("%s:%d", cfg.AdminListenHost, cfg.MetricsPort), mx, health, log)
	})
	if chartStore != nil {
		group.Go(func() error {
			sampleLoop(gctx, chartStore, st, pool, log)
			return nil
		})
	}

	grpcAddr := fmt.Sprintf("%s:%d", cfg.AdminListenHost, cfg.AdminListenPort)
	restAddr := fmt.Sprintf("%s:%d", cfg.AdminListenHost, cfg.AdminListenPort+1)
	grpcStop, restStop, err := adminapi.StartServers(ctx, grpcAddr, restAddr, admin)
	if err != nil {
		log.Fatal(err, "failed to start admin servers")
	}

	log.Info(fmt.Sprintf("chunkserver listening on %s:%d, admin on %s/%s", cfg.ListenHost, cfg.ListenPort, grpcAddr, restAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

waitLoop:
	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			log.Info("SIGHUP received, re-reading hdd list")
			reloadFolders(cfg, st, log)
		default:
			log.Info("shutting down")
			break waitLoop
		}
	}

	cancel()
	grpcStop()
	restStop()
	_ = shutdownTracing(context.Background())

	if err := group.Wait(); err != nil {
		log.Error(err, "service exited with error")
	}
	log.Info("chunkserver stopped")
}

// damageReporter is the store's hook for notifications it cannot act on
// itself. Every method is a no-op, so damaged chunks, lost chunks and
// damaged folders found by the store are not reported to the master; the
// event loop only sends space reports, sweeps idle chunks and refreshes
// folder space.
type damageReporter struct{}

func (d *damageReporter) ChunkDamaged(chunkID uint64) {}
func (d *damageReporter) ChunkLost(chunkID uint64)    {}
func (d *damageReporter) FolderDamaged(path string)   {}

// resolveListenIP turns the configured listen host into the 4-byte form the
// REGISTER frame carries. "0.0.0.0" and unresolvable hosts advertise the
// wildcard address; the master only uses this to tell peers where to reach
// this chunkserver; operators binding to a real interface should set
// CSSERV_LISTEN_HOST to that interface's address.
func resolveListenIP(host string) [4]byte {
	var ip4 [4]byte
	if host == "" || host == "0.0.0.0" {
		return ip4
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return ip4
	}
	copy(ip4[:], addr.IP.To4())
	return ip4
}

func countDamaged(st *store.Store) int {
	n := 0
	for _, f := range st.Folders {
		if f.Damaged {
			n++
		}
	}
	return n
}

func reloadFolders(cfg *config.Config, st *store.Store, log *observability.Logger) {
	folders, err := config.ParseHDDConf(cfg.HDDConfPath)
	if err != nil {
		log.Error(err, "failed to reload hdd list")
		return
	}
	known := make(map[string]bool, len(st.Folders))
	for _, f := range st.Folders {
		known[f.Path] = true
	}
	for _, fc := range folders {
		if known[fc.Path] {
			continue
		}
		if err := st.AddFolder(fc.Path, fc.ToDelete, fc.LeaveFree); err != nil {
			log.Error(err, "failed to add folder "+fc.Path+" on reload")
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, mx *observability.Metrics, health *observability.HealthChecker, log *observability.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mx.Handler())
	mux.HandleFunc("/health", health.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics/health server listening on " + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func sampleLoop(ctx context.Context, cs *charts.Store, st *store.Store, pool *jobpool.Pool, log *observability.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var avail, total int64
			chunkCount := 0
			for _, f := range st.Folders {
				if f.Damaged {
					continue
				}
				avail += f.Avail
				total += f.Total
				chunkCount += f.ChunkCount
			}
			values := map[string]float64{
				charts.SeriesSpaceUsed:    float64(total - avail),
				charts.SeriesSpaceTotal:   float64(total),
				charts.SeriesChunkCount:   float64(chunkCount),
				charts.SeriesJobPoolQueue: float64(pool.Pending()),
			}
			if err := cs.Sample(ctx, now.Unix(), values); err != nil {
				log.Error(err, "failed to persist stats sample")
			}
		}
	}
}
