package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aerotoad/neboa"
	"github.com/aerotoad/neboa/internal/config"
	"github.com/aerotoad/neboa/internal/logger"
	"github.com/aerotoad/neboa/internal/metrics"
)

type benchConfig struct {
	Workers       int
	Documents     int
	Batch         int
	Queries       int
	Subscriptions int
	MetricsAddr   string
	Keep          bool
}

var groups = []string{"alpha", "beta", "gamma", "delta", "epsilon"}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	bench := benchConfig{}

	cmd := &cobra.Command{
		Use:          "neboa-bench",
		Short:        "Load test a neboa database",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(config.EnvPrefix, cfg); err != nil {
				return err
			}
			if !cmd.Flags().Changed("metrics") {
				bench.MetricsAddr = cfg.Metrics.Addr
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("db") {
				cfg.Path = filepath.Join(os.TempDir(), fmt.Sprintf("neboa-bench-%d.db", os.Getpid()))
			} else {
				cfg.Path, _ = cmd.Flags().GetString("db")
			}
			return runBenchmark(cmd.Context(), cfg, bench)
		},
	}

	flags := cmd.Flags()
	flags.String("db", "", "database path (default: a temporary file)")
	flags.IntVarP(&bench.Workers, "concurrency", "c", 10, "Number of concurrent workers")
	flags.IntVarP(&bench.Documents, "documents", "n", 10000, "Number of documents to insert")
	flags.IntVar(&bench.Batch, "batch", 100, "Documents per InsertMany call (1 uses Insert)")
	flags.IntVarP(&bench.Queries, "queries", "q", 1000, "Number of filtered queries to run")
	flags.IntVar(&bench.Subscriptions, "subs", 5, "Number of query subscriptions attached while seeding")
	flags.StringVar(&bench.MetricsAddr, "metrics", "", "Serve /metrics on this address while running")
	flags.BoolVar(&bench.Keep, "keep", false, "Keep the database file afterwards")
	return cmd
}

func runBenchmark(ctx context.Context, cfg *config.Config, bench benchConfig) error {
	if bench.Workers < 1 || bench.Batch < 1 {
		return errors.New("concurrency and batch must be positive")
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	reg := prometheus.NewRegistry()
	opts := cfg.DBOptions()
	opts.Logger = log
	opts.Registerer = reg

	db, err := neboa.Open(cfg.Path, opts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}
	defer func() {
		db.Close()
		if !bench.Keep && cfg.Path != neboa.Memory {
			for _, suffix := range []string{"", "-wal", "-shm"} {
				os.Remove(cfg.Path + suffix)
			}
		}
	}()

	if bench.MetricsAddr != "" {
		srv := serveMetrics(bench.MetricsAddr, reg, log)
		defer srv.Shutdown(context.Background())
	}

	coll, err := db.Collection("bench")
	if err != nil {
		return err
	}

	pool, err := ants.NewPool(bench.Workers, ants.WithPanicHandler(func(v any) {
		log.Error("bench worker panic", "panic", v)
	}))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	fmt.Printf("Starting neboa bench\n")
	fmt.Printf("   Database: %s\n   Workers: %d\n   Documents: %d (batch %d)\n   Queries: %d\n   Subscriptions: %d\n",
		cfg.Path, bench.Workers, bench.Documents, bench.Batch, bench.Queries, bench.Subscriptions)

	var notified atomic.Int64
	subs := make([]*neboa.Subscription, 0, bench.Subscriptions)
	for i := 0; i < bench.Subscriptions; i++ {
		q := coll.Query().EqualTo("group", groups[i%len(groups)]).GreaterThan("score", 50)
		sub, err := q.Subscribe(neboa.EventCreate, func(c neboa.Change) {
			notified.Add(int64(len(c.Documents)))
		})
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	seed := seedPhase(ctx, pool, coll, bench)
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	query := queryPhase(ctx, pool, coll, bench)

	seed.report(os.Stdout)
	query.report(os.Stdout)

	total, err := coll.Query().Count()
	if err != nil {
		return err
	}
	fmt.Printf("\nDocuments stored: %d\n", total)
	fmt.Printf("Documents delivered to subscriptions: %d\n", notified.Load())
	return nil
}

func seedPhase(ctx context.Context, pool *ants.Pool, coll *neboa.Collection, bench benchConfig) *phaseStats {
	stats := newPhaseStats("Insert")
	var wg sync.WaitGroup
	for start := 0; start < bench.Documents; start += bench.Batch {
		if ctx.Err() != nil {
			break
		}
		n := min(bench.Batch, bench.Documents-start)
		offset := start
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(offset)))
			docs := make([]neboa.Document, n)
			for i := range docs {
				docs[i] = benchDocument(r, offset+i)
			}

			begin := time.Now()
			var err error
			if n == 1 {
				_, err = coll.Insert(docs[0])
			} else {
				_, err = coll.InsertMany(docs)
			}
			stats.record(time.Since(begin), err)
		})
		if err != nil {
			wg.Done()
			stats.record(0, err)
		}
	}
	wg.Wait()
	stats.finish()
	return stats
}

func benchDocument(r *rand.Rand, i int) neboa.Document {
	return neboa.Document{
		"name":  fmt.Sprintf("user-%06d", i),
		"group": groups[r.Intn(len(groups))],
		"score": r.Intn(100),
		"tags":  []string{groups[r.Intn(len(groups))], groups[r.Intn(len(groups))]},
		"ts":    time.Now().UnixNano(),
	}
}

// benchQuery builds one of a few representative query shapes.
func benchQuery(r *rand.Rand, coll *neboa.Collection) (*neboa.Query, error) {
	switch r.Intn(4) {
	case 0:
		lo := r.Intn(90)
		return coll.Query().GreaterThanOrEqualTo("score", lo).LessThan("score", lo+10).Limit(50), nil
	case 1:
		return coll.Query().ContainedIn("tags", []string{groups[r.Intn(len(groups))]}).Descending("score").Limit(20), nil
	case 2:
		return coll.Query().Filter(map[string]any{
			"$or": []any{
				map[string]any{"group": groups[r.Intn(len(groups))]},
				map[string]any{"score": map[string]any{"$gt": 95}},
			},
		})
	default:
		return coll.Query().FilterJSON(fmt.Sprintf(`{"name": {"$regex": "^user-00%d"}}`, r.Intn(10)))
	}
}

func queryPhase(ctx context.Context, pool *ants.Pool, coll *neboa.Collection, bench benchConfig) *phaseStats {
	stats := newPhaseStats("Query")
	var wg sync.WaitGroup
	for i := 0; i < bench.Queries; i++ {
		if ctx.Err() != nil {
			break
		}
		seed := int64(i)
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			begin := time.Now()
			q, err := benchQuery(r, coll)
			if err == nil {
				_, err = q.Find()
			}
			stats.record(time.Since(begin), err)
		})
		if err != nil {
			wg.Done()
			stats.record(0, err)
		}
	}
	wg.Wait()
	stats.finish()
	return stats
}

func serveMetrics(addr string, g prometheus.Gatherer, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
