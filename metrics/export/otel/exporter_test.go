package otel

import (
	"context"
	"errors"
	"testing"

	authkit "github.com/quillsec/authkit"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	snapshot authkit.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authkit.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                     { return f.dropped }

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	values := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			}
		}
	}
	return values
}

func TestOTelExporterObservesCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	source := &fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{
				authkit.MetricAccessIssued:   12,
				authkit.MetricMFALockout:     1,
				authkit.MetricSMSRateLimited: 4,
			},
			Histograms: map[authkit.MetricID][]uint64{},
		},
		dropped: 2,
	}

	exporter, err := NewOTelExporterFromSource(provider.Meter("authkit-test"), source)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() { _ = exporter.Close() }()

	values := collectSums(t, reader)
	for name, want := range map[string]int64{
		"authkit_access_issued_total":    12,
		"authkit_mfa_lockout_total":      1,
		"authkit_sms_rate_limited_total": 4,
		"authkit_audit_dropped_total":    2,
	} {
		if values[name] != want {
			t.Fatalf("%s = %d, want %d", name, values[name], want)
		}
	}
}

func TestOTelExporterObservesHistogramBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	source := &fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{},
			Histograms: map[authkit.MetricID][]uint64{
				authkit.MetricValidateLatency: {4, 1, 0, 0, 0, 0, 0, 2},
			},
		},
	}

	exporter, err := NewOTelExporterFromSource(provider.Meter("authkit-test"), source)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() { _ = exporter.Close() }()

	values := collectSums(t, reader)
	for name, want := range map[string]int64{
		"authkit_validate_latency_seconds_bucket_le_0_005": 4,
		"authkit_validate_latency_seconds_bucket_le_0_01":  5,
		"authkit_validate_latency_seconds_bucket_le_inf":   7,
		"authkit_validate_latency_seconds_count":           7,
	} {
		if values[name] != want {
			t.Fatalf("%s = %d, want %d", name, values[name], want)
		}
	}
}

func TestOTelExporterRejectsNilInputs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(provider.Meter("authkit-test"), nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}
