package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncFetch("vector", "ok")
	m.ObserveFetchBytes("vector", 10)
	m.AddOutstanding(1)
	m.IncDedupHit()
	m.IncBuild("prepare", "ok")
	m.ObserveBuildDuration("prepare", 0.1)
	m.IncValidationFailure()
	m.IncBusyRejection()
	m.SetWorkerStatus("w0", 1)
	m.IncTileCacheHit()
	m.IncPublishSkipped()
	m.IncStorageErrors("local")
	m.IncCatalogErrors()
}

func TestNew_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.IncFetch("font", "ok")
	m.IncFetch("font", "ok")
	m.IncFetch("font", "failed")
	m.IncDedupHit()
	m.SetWorkerStatus("w1", 2)

	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("font", "ok")); got != 2 {
		t.Errorf("fetches{font,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("font", "failed")); got != 1 {
		t.Errorf("fetches{font,failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DedupHits); got != 1 {
		t.Errorf("dedup hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WorkerStatus.WithLabelValues("w1")); got != 2 {
		t.Errorf("worker status = %v, want 2", got)
	}

	// A second set on a separate registry must not panic.
	New("test", prometheus.NewRegistry())
}
