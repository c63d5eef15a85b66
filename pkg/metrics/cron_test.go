package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsSplitsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "payment-timeout"
	m.ObserveRun(job, 250*time.Millisecond, nil)
	m.ObserveRun(job, 100*time.Millisecond, errors.New("db down"))
	m.ObserveRun(job, 50*time.Millisecond, nil)
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "musicx_cron_job_runs_total")
	if runs == nil {
		t.Fatal("runs counter not exported")
	}
	byResult := map[string]float64{}
	for _, metric := range runs.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "result" {
				byResult[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if byResult["success"] != 2 || byResult["failure"] != 1 {
		t.Fatalf("unexpected run counts %v", byResult)
	}

	if got, err := fetchHistogramSum(mfs, "musicx_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got < 0.39 || got > 0.41 {
		t.Fatalf("expected duration sum 0.4s, got %f", got)
	}

	last := findMetricFamily(mfs, "musicx_cron_job_last_success_timestamp_seconds")
	if last == nil || last.GetMetric()[0].GetGauge().GetValue() <= 0 {
		t.Fatal("expected last success timestamp to be set")
	}

	skipped := findMetricFamily(mfs, "musicx_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one skipped cycle")
	}
}

func TestPaymentMetricsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)
	metrics.IncCallback("notify", "paid")
	metrics.IncCallback("notify", "paid")
	metrics.IncDeadLettered("")
	metrics.ObserveGatewayRequest("ok", 40*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "musicx_payments_callbacks_total", "outcome", "paid"); err != nil || got != 2 {
		t.Fatalf("expected 2 paid callbacks, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "musicx_payments_notify_dead_lettered_total", "reason", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty reason normalized to unknown, got %f err=%v", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewCronJobMetrics(nil).ObserveRun("job", time.Second, nil)
	NewCronJobMetrics(nil).IncSkipped()
	NewPaymentMetrics(nil).IncCallback("notify", "paid")
	NewHTTPMetrics(nil).Observe("GET", "/", 200, time.Millisecond)
	var nilMetrics *PaymentMetrics
	nilMetrics.IncDeadLettered("x")
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHTTPMetrics(reg).Observe(http.MethodPost, "/api/v1/orders", http.StatusCreated, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "musicx_http_request_duration_seconds") {
		t.Fatalf("expected http histogram in output")
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
