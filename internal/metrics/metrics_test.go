package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"dupeguard.ai/internal/engine/finding"
)

func TestRecordFinding(t *testing.T) {
	before := testutil.ToFloat64(FindingsTotal.WithLabelValues("ghost-stack"))
	RecordFinding(finding.GhostStack)
	if got := testutil.ToFloat64(FindingsTotal.WithLabelValues("ghost-stack")); got != before+1 {
		t.Fatalf("got %v want %v", got, before+1)
	}
}

func TestIdentityCounters(t *testing.T) {
	IdentityCounters{}.Add("alice", finding.PistonExploit, 2)
	if got := testutil.ToFloat64(IdentityFindings.WithLabelValues("alice", "piston-exploit")); got < 2 {
		t.Fatalf("got %v", got)
	}
}

func TestRecordScanTick(t *testing.T) {
	passes := testutil.ToFloat64(ScanPasses)
	visits := testutil.ToFloat64(ScanOps.WithLabelValues("visit"))
	RecordScanTick(10, 1, 0, true, time.Millisecond)
	if testutil.ToFloat64(ScanPasses) != passes+1 {
		t.Fatalf("pass not counted")
	}
	if testutil.ToFloat64(ScanOps.WithLabelValues("visit")) != visits+10 {
		t.Fatalf("visits not counted")
	}
}

func TestRecordFlush(t *testing.T) {
	RecordFlush("antidupe:logs", "fit", 512, nil)
	if got := testutil.ToFloat64(StoreBytes.WithLabelValues("antidupe:logs")); got != 512 {
		t.Fatalf("bytes gauge=%v", got)
	}
	errsBefore := testutil.ToFloat64(StoreFlushErrors.WithLabelValues("antidupe:logs"))
	RecordFlush("antidupe:logs", "fit", 9, errors.New("quota"))
	if testutil.ToFloat64(StoreFlushErrors.WithLabelValues("antidupe:logs")) != errsBefore+1 {
		t.Fatalf("error not counted")
	}
	if got := testutil.ToFloat64(StoreBytes.WithLabelValues("antidupe:logs")); got != 512 {
		t.Fatalf("failed flush must not move the gauge: %v", got)
	}
}

func TestMetricsLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, p := range problems {
		if p.Metric != "" && len(p.Metric) > 10 && p.Metric[:10] == "dupeguard_" {
			t.Errorf("lint %s: %s", p.Metric, p.Text)
		}
	}
}
