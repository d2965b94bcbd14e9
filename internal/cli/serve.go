package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/rescache/display"
	"github.com/IvanBrykalov/rescache/internal/config"
	"github.com/IvanBrykalov/rescache/internal/logging"
	"github.com/IvanBrykalov/rescache/metrics/prom"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured display nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, path, cmd)
		},
	}
}

func serve(ctx context.Context, path string, cmd *cobra.Command) error {
	boot := logging.New(logging.Config{}, cmd.ErrOrStderr())
	mgr := config.NewManager(path, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())
	if f := mgr.File(); f != "" {
		log.Info().Str("file", f).Msg("config loaded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	servers := display.NewServerCache(display.ServerCacheOptions{
		MaxServers: cfg.Cache.MaxCost,
		Logger:     log,
		Metrics:    prom.New(reg, "displayd", "servers", nil),
	})
	defer func() { _ = servers.Close() }()

	n := newNodes(servers, log)
	defer n.close()
	n.apply(ctx, cfg.Displays)

	mgr.Watch(func(next *config.Config) {
		if next.Cache.MaxCost != cfg.Cache.MaxCost {
			log.Warn().Int64("max_cost", next.Cache.MaxCost).Msg("cache.max_cost change needs a restart")
		}
		n.apply(ctx, next.Displays)
	})

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newRouter(n, servers, reg, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("http listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	log.Info().Err(err).Msg("shutting down")
	return err
}
