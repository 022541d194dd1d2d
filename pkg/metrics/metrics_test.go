package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteText(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveOperation("share_record", "success", 50*time.Millisecond)
	m.ObserveOperation("share_record", "success", 80*time.Millisecond)
	m.ObserveSkip("ensure_team_folder")
	m.ObserveRetry("share_record")
	m.ObserveRow(true)
	m.ObserveRow(false)
	m.ObserveRun(2 * time.Second)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, registry))
	out := buf.String()

	assert.Contains(t, out, `keeperperms_operations_total{operation="share_record",status="success"} 2`)
	assert.Contains(t, out, `keeperperms_operations_total{operation="ensure_team_folder",status="skipped"} 1`)
	assert.Contains(t, out, `keeperperms_operation_retries_total{operation="share_record"} 1`)
	assert.Contains(t, out, `keeperperms_rows_total{result="success"} 1`)
	assert.Contains(t, out, `keeperperms_rows_total{result="failed"} 1`)
	assert.Contains(t, out, "keeperperms_run_duration_seconds_count 1")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *RunMetrics
	m.ObserveOperation("share_record", "success", time.Second)
	m.ObserveSkip("share_record")
	m.ObserveRetry("share_record")
	m.ObserveRow(true)
	m.ObserveRun(time.Second)
}

func TestWriteTextEmptyRegistry(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, prometheus.NewRegistry()))
	assert.Empty(t, strings.TrimSpace(buf.String()))
}
