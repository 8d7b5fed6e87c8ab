package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/guard"
	"github.com/xraph/guard/api"
	"github.com/xraph/guard/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the usage API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configFile, envFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *Config) error {
	zl, logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g := guard.New(s,
		guard.WithLogger(logger),
		guard.WithResolver(buildResolver(cfg)),
		guard.WithMutationTimeout(cfg.MutationTimeout),
		guard.WithPluginTimeout(cfg.PluginTimeout),
		guard.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
	)
	if err := g.Start(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("start guard: %w", err)
	}
	defer func() {
		if err := g.Stop(); err != nil {
			zl.Warn("guard stop failed", zap.Error(err))
		}
	}()

	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(g, api.WithLogger(logger)), cfg.BasePath, api.AccessLog(zl))
	router.GET("/healthz", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := g.Health(hctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddr == "" {
		router.GET("/metrics", gin.WrapH(metrics))
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		eg.Go(func() error {
			zl.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		zl.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}
