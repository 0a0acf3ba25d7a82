package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"red-ai/handler"
	"red-ai/internal/config"
	"red-ai/internal/logging"
	"red-ai/internal/wiring"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Pipeline ----
	app, err := wiring.NewBuilder(cfg, awsCfg).Pipeline(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	// ---- Handler ----
	h, err := handler.NewHandler(app.Orchestrator)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting pipeline function", "trigger", cfg.TriggerMode, "speech_backend", cfg.SpeechBackend)
	switch cfg.TriggerMode {
	case config.TriggerAPIGW:
		lambda.Start(h.Handle)
	default:
		lambda.Start(h.Invoke)
	}
}
