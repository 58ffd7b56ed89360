package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

func TestInvalidationJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Simulate invalidations finishing fast and mostly successful.
	for i := 0; i < 40; i++ {
		tracker := metrics.Track("authz:invalidate:subtree")
		time.Sleep(2 * time.Millisecond)
		var jobErr error
		if i%20 == 19 {
			jobErr = errors.New("redis timeout")
		}
		if err := tracker.End(jobErr); !errors.Is(err, jobErr) {
			t.Fatalf("tracker must hand back the job error, got %v", err)
		}
	}

	// Integrity sweeps run slower but must stay inside their target.
	for i := 0; i < 12; i++ {
		tracker := metrics.Track("authz:hierarchy:verify")
		time.Sleep(8 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending verify tracker: %v", err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	success := metricValue(t, families, "lyceum_jobs_total", map[string]string{"job": "authz:invalidate:subtree", "status": "success"})
	failure := metricValue(t, families, "lyceum_jobs_total", map[string]string{"job": "authz:invalidate:subtree", "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no invalidation executions recorded")
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("invalidation success ratio too low: %f", ratio)
	}

	verifyDuration := histogramMean(t, families, "lyceum_job_duration_seconds", map[string]string{"job": "authz:hierarchy:verify"})
	if verifyDuration > 2.0 {
		t.Fatalf("verify duration above target: %f", verifyDuration)
	}

	invalidateDuration := histogramMean(t, families, "lyceum_job_duration_seconds", map[string]string{"job": "authz:invalidate:subtree"})
	if invalidateDuration > 0.5 {
		t.Fatalf("invalidation duration above target: %f", invalidateDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
