package sessionguard

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSessionCreated)

	if got := m.Value(MetricSessionCreated); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSessionCreated)
	m.Inc(MetricSessionCreated)
	m.Inc(MetricSessionCreated)

	if got := m.Value(MetricSessionCreated); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricAttemptRecorded)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricAttemptRecorded); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricValidateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricSessionCreated)
	m.Inc(MetricRateLimitDenied)
	m.Inc(MetricRateLimitDenied)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("expected MetricSessionCreated=1 got %d", snap.Counters[MetricSessionCreated])
	}
	if snap.Counters[MetricRateLimitDenied] != 2 {
		t.Fatalf("expected MetricRateLimitDenied=2 got %d", snap.Counters[MetricRateLimitDenied])
	}
	if len(snap.Histograms[MetricValidateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}

func TestMetricsSnapshotExcludesLatencyFromCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricValidateLatency)

	snap := m.Snapshot()
	if _, ok := snap.Counters[MetricValidateLatency]; ok {
		t.Fatal("validate latency is a histogram, not a counter")
	}
	if len(snap.Histograms) != 0 {
		t.Fatalf("histograms present with latency disabled: %v", snap.Histograms)
	}
	if len(snap.Counters) != int(metricIDCount)-1 {
		t.Fatalf("len(counters) = %d", len(snap.Counters))
	}
}

func TestMetricsNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricValidateLatency, time.Millisecond)
	if m.Value(MetricLogout) != 0 || m.Enabled() {
		t.Fatal("nil metrics must read as disabled")
	}
}

func TestValidateRecordsMetricsAndSingleProviderCall(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	e, done := newTestEngine(t, cfg)
	defer done()

	created := mustCreate(t, e, "u1")
	e.users.mu.Lock()
	e.users.calls = 0
	e.users.mu.Unlock()

	if _, err := e.ValidateSession(context.Background(), created.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := e.ValidateSession(context.Background(), "unknown"); err != nil {
		t.Fatalf("validate unknown: %v", err)
	}

	e.users.mu.Lock()
	calls := e.users.calls
	e.users.mu.Unlock()
	if calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricSessionCreated] != 1 || snap.Counters[MetricSessionValidated] != 1 || snap.Counters[MetricSessionValidateMiss] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	var observed uint64
	for _, v := range snap.Histograms[MetricValidateLatency] {
		observed += v
	}
	if observed != 2 {
		t.Fatalf("latency observations = %d, want 2", observed)
	}
}
