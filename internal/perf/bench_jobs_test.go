package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/groupledger/groupledger/internal/jobs"
	_ "github.com/groupledger/groupledger/internal/testing/guard"
)

func TestConsolidationJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Simulate re-runs of an already drafted period finishing fast.
	for i := 0; i < 60; i++ {
		tracker := metrics.Track("consol:execute")
		time.Sleep(12 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}

	// Simulate cold runs that resolve scope and take a fresh snapshot.
	for i := 0; i < 15; i++ {
		tracker := metrics.Track("consol:execute_cold")
		time.Sleep(40 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending cold tracker: %v", err)
		}
	}

	// Inject a couple of failures to ensure alerts fire correctly.
	for i := 0; i < 3; i++ {
		tracker := metrics.Track("consol:execute")
		time.Sleep(15 * time.Millisecond)
		if err := tracker.End(errors.New("lock contention")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "groupledger_jobs_total", map[string]string{"job": "consol:execute", "status": "success"})
	failure := metricValue(t, families, "groupledger_jobs_total", map[string]string{"job": "consol:execute", "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no executions recorded")
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("execute success ratio too low: %f", ratio)
	}

	coldDuration := histogramMean(t, families, "groupledger_job_duration_seconds", map[string]string{"job": "consol:execute_cold"})
	if coldDuration > 2.0 {
		t.Fatalf("cold run duration above budget: %f", coldDuration)
	}

	warmDuration := histogramMean(t, families, "groupledger_job_duration_seconds", map[string]string{"job": "consol:execute"})
	if warmDuration > 0.5 {
		t.Fatalf("warm run duration above budget: %f", warmDuration)
	}
}

func TestRunWarningCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	metrics.AddRunWarnings("coverage_gap", 2)
	metrics.AddRunWarnings("unmatched_residual", 1)
	metrics.AddRunWarnings("coverage_gap", 0) // no-op

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	gaps := metricValue(t, families, "groupledger_run_warnings_total", map[string]string{"kind": "coverage_gap"})
	if gaps != 2 {
		t.Fatalf("expected 2 coverage gaps, got %f", gaps)
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
