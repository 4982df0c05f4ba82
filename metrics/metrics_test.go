package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mami-project/vpp-plus/metrics"
)

func TestPacketsTotalIncrements(t *testing.T) {
	metrics.PacketsTotal.Reset()
	metrics.PacketsTotal.With(prometheus.Labels{"variant": "tcp"}).Inc()
	metrics.PacketsTotal.With(prometheus.Labels{"variant": "tcp"}).Inc()

	got := testutil.ToFloat64(metrics.PacketsTotal.With(prometheus.Labels{"variant": "tcp"}))
	if got != 2 {
		t.Errorf("PacketsTotal{tcp} = %v, want 2", got)
	}
}

func TestErrorCountByKind(t *testing.T) {
	metrics.ErrorCount.Reset()
	metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()

	got := testutil.ToFloat64(metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}))
	if got != 1 {
		t.Errorf("ErrorCount{short-header} = %v, want 1", got)
	}
}
