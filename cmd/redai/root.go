package main

import (
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"red-ai/internal/config"
	"red-ai/internal/logging"
	"red-ai/internal/wiring"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "redai",
	Short: "Conversational speech pipeline: transcript, completion, speech",
	Long: "redai records a prompt as a conversation turn, asks the completion model for a\n" +
		"reply and synthesizes the reply to audio, using the same configuration as the\n" +
		"Lambda functions.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// buildApp loads configuration from the environment and wires the pipeline.
func buildApp(cmd *cobra.Command, reg prometheus.Registerer) (config.Config, *wiring.App, error) {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return config.Config{}, nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load AWS config: %w", err)
	}
	app, err := wiring.NewBuilder(cfg, awsCfg).Pipeline(reg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, app, nil
}
