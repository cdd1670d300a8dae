package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "provider call failed",
		"error", "401 unauthorized: api_key = sk-hyperbolic-abcdef1234567890abcdef")

	out := buf.String()
	if strings.Contains(out, "abcdef1234567890") {
		t.Errorf("API key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker: %s", out)
	}
}

func TestLoggerRunCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := WithRun(context.Background(), "run-42", "thread-7")
	logger.Debug(ctx, "stream started")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if rec["run_id"] != "run-42" || rec["thread_id"] != "thread-7" {
		t.Errorf("missing correlation fields: %v", rec)
	}
	if RunIDFromContext(ctx) != "run-42" {
		t.Error("RunIDFromContext mismatch")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level: %s", buf.String())
	}
	logger.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Error("warn record should pass")
	}
}

func TestNewMetricsRegisters(t *testing.T) {
	// Separate registry so repeated test runs do not collide.
	m := NewMetrics(newTestRegistry(t))
	m.ChunkCounter.WithLabelValues("content").Inc()
	m.ActiveRuns.Inc()
	m.RunOutcomes.WithLabelValues("completed").Inc()
}
