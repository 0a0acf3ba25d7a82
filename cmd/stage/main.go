// stage serves a single pipeline stage as its own Lambda function, selected
// by STAGE_NAME.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"red-ai/internal/config"
	"red-ai/internal/logging"
	"red-ai/internal/stage"
	"red-ai/internal/wiring"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	s, err := wiring.NewBuilder(cfg, awsCfg).Stage(cfg.StageName)
	if err != nil {
		slog.Error("failed to build stage", "stage", cfg.StageName, "err", err)
		os.Exit(1)
	}

	slog.Info("starting stage function", "stage", s.Name())
	lambda.Start(stage.Serve(s))
}
