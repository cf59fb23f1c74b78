package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/vhost-proxy/config"
	"github.com/angeloszaimis/vhost-proxy/internal/backend"
	"github.com/angeloszaimis/vhost-proxy/internal/handler"
	"github.com/angeloszaimis/vhost-proxy/internal/httpserver"
	"github.com/angeloszaimis/vhost-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/vhost-proxy/internal/metrics"
	"github.com/angeloszaimis/vhost-proxy/internal/proxy"
	"github.com/angeloszaimis/vhost-proxy/internal/route"
	"github.com/angeloszaimis/vhost-proxy/pkg/logger"
)

const (
	metricsBufferSize = 10000
	drainTimeout      = 10 * time.Second
)

func run(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		slog.Error("Failed to load config", slog.Any("err", err))
		return err
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment, os.Stdout)

	table, err := buildTable(cfg)
	if err != nil {
		log.Error("Failed to build routing table", slog.Any("err", err))
		return err
	}

	log.Info("Routing table loaded",
		slog.Int("routes", table.Len()),
		slog.String("fallback", table.Fallback().String()))

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lb := loadbalancer.NewLoadBalancer(log, cfg.Proxy.VirtualNodes)
	collector := metrics.NewCollector(metricsBufferSize, log, nil)
	if err := collector.TrackActive(lb.Snapshot); err != nil {
		log.Error("Failed to register active reservations", slog.Any("err", err))
		return err
	}
	forwarder := backend.NewForwarder(log, nil)
	connHandler := handler.New(log, table, lb, forwarder, collector, cfg.Proxy.ReadBufferSize)
	srv := proxy.New(log, connHandler)

	var admin *httpserver.Server
	if cfg.Admin.Enabled {
		admin, err = httpserver.New(cfg.Admin.Address, setupRouter(collector, lb, table))
		if err != nil {
			log.Error("Failed to create admin server", slog.Any("err", err))
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		collector.Run(gctx)
		return nil
	})

	g.Go(func() error {
		err := srv.ListenAndServe(gctx, cfg.Server.Address)
		if errors.Is(err, proxy.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Connections still in flight at shutdown", slog.Any("err", err))
		}
		return nil
	})

	if admin != nil {
		g.Go(func() error {
			log.Info("Admin endpoint listening", slog.String("address", cfg.Admin.Address))
			return admin.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("Proxy stopped with error", slog.Any("err", err))
		return err
	}

	return nil
}

func buildTable(cfg *config.Config) (*route.Table, error) {
	entries, err := cfg.RoutingEntries()
	if err != nil {
		return nil, err
	}

	fallback, err := cfg.FallbackBackend()
	if err != nil {
		return nil, err
	}

	return route.NewTable(entries, fallback)
}
