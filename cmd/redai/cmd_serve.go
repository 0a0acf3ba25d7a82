package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"red-ai/handler"
	"red-ai/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP with Prometheus metrics",
	Long: `Starts an HTTP server exposing:

  POST /v1/pipeline   run the pipeline for {"user_id", "prompt"}
  GET  /metrics       Prometheus metrics
  GET  /healthz       liveness`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default METRICS_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg, app, err := buildApp(cmd, reg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	h, err := handler.NewHandler(app.Orchestrator)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(h, reg),
		ReadHeaderTimeout: 5 * time.Second,
		// Runs take up to the sum of the stage timeouts.
		WriteTimeout: cfg.Timeouts.Transcript + cfg.Timeouts.Completion + cfg.Timeouts.Speech + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger := logging.New("serve")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown", "err", err)
		return err
	}
	return nil
}

func newMux(h http.Handler, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/pipeline", h)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
