package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/panelauth"
)

type fakeSource struct {
	snapshot panelauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() panelauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters:   map[panelauth.MetricID]uint64{},
			Histograms: map[panelauth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters: map[panelauth.MetricID]uint64{
				panelauth.MetricLoginSuccess:  7,
				panelauth.MetricAccountLocked: 2,
			},
			Histograms: map[panelauth.MetricID][]uint64{
				panelauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"panelauth_login_success_total 7",
		"panelauth_account_locked_total 2",
		"panelauth_login_failure_total 0",
		"# TYPE panelauth_validate_latency_seconds histogram",
		`panelauth_validate_latency_seconds_bucket{le="0.005"} 1`,
		`panelauth_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"panelauth_validate_latency_seconds_count 36",
		"panelauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderSkipsHistogramWhenLatencyDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters:   map[panelauth.MetricID]uint64{panelauth.MetricLoginSuccess: 1},
			Histograms: map[panelauth.MetricID][]uint64{},
		},
	})
	if out := exp.Render(); strings.Contains(out, "validate_latency") {
		t.Fatalf("histogram rendered without data:\n%s", out)
	}
}

func TestRenderFromEngine(t *testing.T) {
	m := panelauth.NewMetrics(panelauth.MetricsConfig{Enabled: true})
	m.Inc(panelauth.MetricLogout)
	exp := NewExporterFromSource(metricsOnly{m})

	if out := exp.Render(); !strings.Contains(out, "panelauth_logout_total 1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

type metricsOnly struct{ m *panelauth.Metrics }

func (s metricsOnly) MetricsSnapshot() panelauth.MetricsSnapshot { return s.m.Snapshot() }
func (s metricsOnly) AuditDropped() uint64                       { return 0 }

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters:   map[panelauth.MetricID]uint64{panelauth.MetricLoginSuccess: 1},
			Histograms: map[panelauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters: map[panelauth.MetricID]uint64{
				panelauth.MetricLoginSuccess:         1000,
				panelauth.MetricLoginFailure:         40,
				panelauth.MetricSessionCreated:       800,
				panelauth.MetricSessionInvalidated:   20,
				panelauth.MetricPasswordResetFailure: 3,
			},
			Histograms: map[panelauth.MetricID][]uint64{
				panelauth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
