package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"fatal": zerolog.FatalLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAuditFileReceivesAuditAndWarnings(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auctiond.log")
	auditPath := filepath.Join(dir, "audit.log")

	var console bytes.Buffer
	l, err := newLogger(&console, "debug", logPath, auditPath)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}

	child := l.With("engine")
	child.Info("routine %d", 1)
	child.Warn("something odd")
	l.Audit("auction.closed", map[string]interface{}{"auction_id": 7})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(audit), "routine 1") {
		t.Errorf("audit file must not receive info records")
	}
	if !strings.Contains(string(audit), "something odd") {
		t.Errorf("audit file should receive warnings")
	}
	if !strings.Contains(string(audit), `"audit":"auction.closed"`) || !strings.Contains(string(audit), `"auction_id":7`) {
		t.Errorf("audit file missing the audit record: %s", audit)
	}

	main, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(main), `"component":"engine"`) {
		t.Errorf("child logger should tag its component: %s", main)
	}
	if !strings.Contains(console.String(), "routine 1") {
		t.Errorf("console should receive info records")
	}
}

func TestLevelFilter(t *testing.T) {
	var console bytes.Buffer
	l, err := newLogger(&console, "warn", "", "")
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	l.Info("hidden")
	l.Error("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Errorf("unexpected console output %q", console.String())
	}
}

func TestMetricsCounters(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRejection("place", "replay_attempt")
	mc.RecordRejection("place", "replay_attempt")
	mc.RecordRejection("reveal", "commitment_mismatch")
	mc.RecordClose(true, 3)

	if got := mc.Counter(MetricRejections, map[string]string{"kind": "replay_attempt", "op": "place"}); got != 2 {
		t.Errorf("expected 2 replay rejections, got %d", got)
	}
	if got := mc.Counter(MetricAuctionsClosed, map[string]string{"kind": "forced"}); got != 1 {
		t.Errorf("expected 1 forced close, got %d", got)
	}
	if m := mc.GetMetric(MetricRevealedPerAuction, nil); m == nil || m.Value != 3 {
		t.Errorf("expected revealed histogram observation of 3, got %+v", m)
	}

	summary := mc.GetMetricsSummary()
	if len(summary) == 0 {
		t.Errorf("expected a non-empty summary")
	}

	mc.Reset()
	if mc.Counter(MetricRejections, map[string]string{"op": "place", "kind": "replay_attempt"}) != 0 {
		t.Errorf("expected counters cleared by Reset")
	}
}

func TestNilMetricsCollectorIsSafe(t *testing.T) {
	var mc *MetricsCollector
	mc.RecordSealedBid()
	mc.RecordVerification(time.Millisecond)
	if mc.Counter(MetricSealedBids, nil) != 0 {
		t.Errorf("nil collector should report zero")
	}
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("v1")
	hc.RegisterComponent("store", true, func(context.Context) error { return nil })
	hc.RegisterComponent("redis", false, func(context.Context) error { return errors.New("connection refused") })

	h := hc.CheckHealth(context.Background())
	if h.OverallStatus != Degraded {
		t.Fatalf("expected degraded with a failing optional component, got %s", h.OverallStatus)
	}
	if len(h.Components) != 2 || h.Components[0].Name != "redis" || h.Components[0].Message != "connection refused" {
		t.Errorf("unexpected components %+v", h.Components)
	}
	if resp := CreateHealthResponse(h); resp.Status != "warning" {
		t.Errorf("expected warning response, got %s", resp.Status)
	}

	hc.RegisterComponent("store", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	hc.timeout = 10 * time.Millisecond
	if h := hc.CheckHealth(context.Background()); h.OverallStatus != Unhealthy {
		t.Errorf("expected unhealthy when a critical check times out, got %s", h.OverallStatus)
	}
	if h := hc.GetHealth(); h.OverallStatus != Unhealthy || h.Version != "v1" {
		t.Errorf("GetHealth should return the last result, got %+v", h)
	}
}
