package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/rescache/cache"
	"github.com/IvanBrykalov/rescache/metrics/prom"
	"github.com/IvanBrykalov/rescache/policy"
	"github.com/IvanBrykalov/rescache/policy/fifo"
	"github.com/IvanBrykalov/rescache/policy/lru"
)

type benchOptions struct {
	maxCost  int64
	policy   string
	workers  int
	duration time.Duration
	keys     int
	zipfS    float64
	zipfV    float64
	seed     int64
	hold     float64
	delay    time.Duration
	metrics  string
}

func newBenchCmd() *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic Get/Release workload against the cache",
		Long: `bench drives the resource cache with Zipf-distributed keys from
several workers. A fraction of the handles (--hold) is kept while the
worker issues further requests, which pins entries and exercises
eviction around them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.Int64Var(&o.maxCost, "max-cost", 10_000, "cache bound (total cost)")
	f.StringVar(&o.policy, "policy", "lru", "eviction policy: lru | fifo")
	f.IntVar(&o.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.DurationVar(&o.duration, "duration", 5*time.Second, "benchmark duration")
	f.IntVar(&o.keys, "keys", 100_000, "keyspace size")
	f.Float64Var(&o.zipfS, "zipf-s", 1.1, "Zipf s > 1 (skew)")
	f.Float64Var(&o.zipfV, "zipf-v", 1.0, "Zipf v >= 1")
	f.Int64Var(&o.seed, "seed", time.Now().UnixNano(), "random seed")
	f.Float64Var(&o.hold, "hold", 0.1, "fraction of handles kept across requests [0..1]")
	f.DurationVar(&o.delay, "delay", 0, "simulated construction time")
	f.StringVar(&o.metrics, "metrics", "", "serve Prometheus metrics at addr; empty = disabled")
	return cmd
}

type benchResource struct{ closed atomic.Bool }

func (r *benchResource) Close() error {
	r.closed.Store(true)
	return nil
}

// heldPerWorker bounds how many handles one worker keeps at a time.
const heldPerWorker = 8

func runBench(ctx context.Context, o benchOptions, out io.Writer) error {
	if o.keys < 1 {
		return errors.New("bench: --keys must be >= 1")
	}
	if o.zipfS <= 1 || o.zipfV < 1 {
		return errors.New("bench: need --zipf-s > 1 and --zipf-v >= 1")
	}
	if o.hold < 0 || o.hold > 1 {
		return errors.New("bench: --hold must be in [0, 1]")
	}
	var pol policy.Policy[string]
	switch o.policy {
	case "lru":
		pol = lru.New[string]()
	case "fifo":
		pol = fifo.New[string]()
	default:
		return fmt.Errorf("bench: unknown policy %q (use lru or fifo)", o.policy)
	}
	if o.workers <= 0 {
		o.workers = 1
	}

	reg := prometheus.NewRegistry()
	opt := cache.Options[string, *benchResource]{
		MaxCost: o.maxCost,
		Policy:  pol,
		Metrics: prom.New(reg, "displayd", "bench", nil),
		Factory: cache.UnitCost(func(ctx context.Context, _ string) (*benchResource, error) {
			if o.delay > 0 {
				select {
				case <-time.After(o.delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &benchResource{}, nil
		}),
	}
	c := cache.New(opt)
	defer func() { _ = c.Close() }()

	if o.metrics != "" {
		srv := &http.Server{Addr: o.metrics, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: time.Second}
		go func() { _ = srv.ListenAndServe() }()
		defer func() { _ = srv.Close() }()
	}

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	var total atomic.Uint64
	keysMax := uint64(o.keys - 1)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < o.workers; w++ {
		id := int64(w)
		g.Go(func() error {
			// rand.Rand is not goroutine-safe; one per worker.
			r := rand.New(rand.NewSource(o.seed + id*9973))
			zipf := rand.NewZipf(r, o.zipfS, o.zipfV, keysMax)

			held := make([]*cache.Handle[string, *benchResource], 0, heldPerWorker)
			defer func() {
				for _, h := range held {
					h.Release()
				}
			}()

			for gctx.Err() == nil {
				h, err := c.Get(gctx, "k:"+strconv.FormatUint(zipf.Uint64(), 10))
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				total.Add(1)
				if h.Value().closed.Load() {
					return errors.New("bench: handed out a destroyed resource")
				}
				if r.Float64() >= o.hold {
					h.Release()
					continue
				}
				if len(held) == heldPerWorker {
					held[0].Release()
					held = append(held[:0], held[1:]...)
				}
				held = append(held, h)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	st := c.Stats()
	ops := total.Load()
	hitRate := 0.0
	if st.Hits+st.Misses > 0 {
		hitRate = float64(st.Hits) / float64(st.Hits+st.Misses) * 100
	}
	fmt.Fprintf(out, "policy=%s max-cost=%d workers=%d keys=%d hold=%.2f dur=%v seed=%d\n",
		o.policy, o.maxCost, o.workers, o.keys, o.hold, elapsed.Round(time.Millisecond), o.seed)
	fmt.Fprintf(out, "ops=%d (%.0f ops/s)  constructions=%d  evictions=%d  overflows=%d\n",
		ops, float64(ops)/elapsed.Seconds(), st.Loads, st.Evictions, st.Overflows)
	fmt.Fprintf(out, "hits=%d  misses=%d  hit-rate=%.2f%%\n", st.Hits, st.Misses, hitRate)
	fmt.Fprintf(out, "Len()=%d Cost()=%d\n", st.Entries, st.Cost)
	return nil
}
