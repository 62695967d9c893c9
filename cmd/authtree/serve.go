package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goAuthTree/httpapi"
	"github.com/MrEthical07/goAuthTree/internal/rate"
	promexport "github.com/MrEthical07/goAuthTree/metrics/export/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve journeys over HTTP",
	Long:  `Loads the configured trees and exposes the journey API, plus /metrics when metrics are enabled.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.Listen = addr
		}

		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		opts := []httpapi.Option{
			httpapi.WithLogger(rt.log),
			httpapi.WithTrustedProxyHeader(cfg.TrustedProxyHeader),
		}
		limiter, err := rate.New(rt.redis, cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		opts = append(opts, httpapi.WithThrottle(limiter))
		if cfg.Engine.Metrics.Enabled {
			opts = append(opts, httpapi.WithMetrics(promexport.NewPrometheusExporter(rt.engine).Handler()))
		}

		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           httpapi.NewHandler(rt.engine, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			rt.log.Infow("listening", "addr", srv.Addr, "trees", rt.engine.TreeNames())
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server: %w", err)
		case sig := <-shutdown:
			rt.log.Infow("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				rt.log.Warnw("graceful shutdown incomplete", "error", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "listen address, overrides the config file")
}
