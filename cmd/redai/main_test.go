package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"red-ai/handler"
	"red-ai/internal/domain"
	"red-ai/internal/observability/metrics"
)

type stubRunner struct{}

func (stubRunner) Execute(_ context.Context, in domain.PipelineInput) (domain.PipelineResult, error) {
	return domain.PipelineResult{UserID: in.UserID, Completion: "hi there", AudioRef: in.UserID + "/run-1", RunID: "run-1"}, nil
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["serve"])
}

func TestRunCmd_RequiresFlags(t *testing.T) {
	require.NotNil(t, runCmd.Flags().Lookup("user"))
	require.NotNil(t, runCmd.Flags().Lookup("prompt"))
	require.Equal(t, "1", runCmd.Flags().Lookup("repeat").DefValue)
}

func TestNewMux_Routes(t *testing.T) {
	h, err := handler.NewHandler(stubRunner{})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RunFinished(0, nil)

	srv := httptest.NewServer(newMux(h, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/v1/pipeline", "application/json", strings.NewReader(`{"user_id":"u1","prompt":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
