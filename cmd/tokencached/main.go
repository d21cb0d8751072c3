// Command tokencached shares one tokencache store between worker processes.
//
// It serves the configured backend over RESP, so workers configured with
// store.backend: resp read and write the same keyspaces, and exposes an
// admin HTTP API for segment tokens, sweeps, health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/tokencache/config"
	"github.com/jonwraymond/tokencache/health"
	"github.com/jonwraymond/tokencache/kv/respkv"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/observe/exporters"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tokencached:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("tokencached", flag.ContinueOnError)
	configPath := flags.String("config", "", "YAML configuration file (default $"+config.EnvConfigPath+")")
	respAddr := flags.String("resp-addr", "", "RESP listen address, overrides server.resp_addr")
	httpAddr := flags.String("http-addr", "", "admin HTTP listen address, overrides server.http_addr")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return err
	}
	if *respAddr != "" {
		cfg.Server.RESPAddr = *respAddr
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs, err := observe.NewObserver(ctx, cfg.Observe, exporters.WithRegisterer(metrics))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()
	logger := obs.Logger()

	stores, err := config.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry, err := config.NewRegistry(cfg, stores)
	if err != nil {
		return err
	}
	sweeper, err := config.NewSweeper(cfg, stores, logger)
	if err != nil {
		return err
	}
	guard, err := config.NewGuard(cfg.Server.Auth)
	if err != nil {
		return err
	}

	checks := health.NewAggregator(health.AggregatorConfig{})
	checks.Register(health.NewStoreChecker("store", stores.Root, ""))
	checks.Register(health.NewRegistryChecker(registry))

	resp, err := respkv.NewServer(stores.Root, respkv.ServerConfig{Addr: cfg.Server.RESPAddr, Logger: logger})
	if err != nil {
		return err
	}
	if err := resp.Start(); err != nil {
		return fmt.Errorf("resp listen %s: %w", cfg.Server.RESPAddr, err)
	}
	defer resp.Close()

	api := &adminAPI{registry: registry, sweeper: sweeper, logger: logger, now: time.Now}
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.routes(guard, checks, metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen %s: %w", cfg.Server.HTTPAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if cfg.Sweeper.Interval > 0 {
		g.Go(func() error {
			api.sweepEvery(gctx, cfg.Sweeper.Interval)
			return nil
		})
	}

	logger.Info(ctx, "tokencached started",
		observe.Field{Key: "backend", Value: cfg.Store.Backend},
		observe.Field{Key: "resp_addr", Value: resp.Addr().String()},
		observe.Field{Key: "http_addr", Value: cfg.Server.HTTPAddr},
		observe.Field{Key: "enabled", Value: cfg.Enabled})

	err = g.Wait()
	logger.Info(context.WithoutCancel(ctx), "tokencached stopped")
	return err
}
