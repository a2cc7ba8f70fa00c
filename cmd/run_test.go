package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/config"
)

func sampleSummary() audit.RunSummary {
	return audit.RunSummary{
		RunID:       "run-1",
		Parallelism: 2,
		Elapsed:     3 * time.Second,
		Retries:     1,
		Results: []audit.Result{
			{
				Task:     audit.Task{URL: "https://example.com/", Device: "desktop"},
				Status:   audit.StatusOK,
				Duration: 1200 * time.Millisecond,
			},
			{
				Task:     audit.Task{URL: "https://example.com/pricing", Device: "mobile"},
				Status:   audit.StatusFailed,
				Attempts: 3,
				Error:    "navigate: connection closed",
			},
		},
	}
}

func TestPrintSummaryHuman(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, sampleSummary(), false))

	out := buf.String()
	assert.Contains(t, out, "run run-1: 1/2 succeeded")
	assert.Contains(t, out, "ok   desktop")
	assert.Contains(t, out, "FAIL mobile")
	assert.Contains(t, out, "connection closed")
}

func TestPrintSummaryJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, sampleSummary(), true))

	var decoded audit.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Results, 2)
}

func TestBuildTasksWithoutDiscovery(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Audit.Devices = []string{"desktop", "mobile"}

	state := &appState{cfg: cfg, logger: zap.NewNop()}
	tasks, err := buildTasks(context.Background(), state, []string{"https://example.com/"})
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal(t, "desktop", tasks[0].Device)
	assert.Equal(t, "mobile", tasks[1].Device)
	assert.Equal(t, cfg.TaskTimeout(), tasks[0].Timeout)
}
