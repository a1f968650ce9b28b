package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the lifecycle and HTTP metrics.
type Metrics struct {
	meter metric.Meter

	// Job lifecycle
	SubmissionsTotal  metric.Int64Counter
	SubmissionErrors  metric.Int64Counter
	PollsTotal        metric.Int64Counter
	PollRecords       metric.Int64Gauge
	TerminationsTotal metric.Int64Counter
	JobsActive        metric.Int64UpDownCounter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter
}

// NewMetrics creates all metrics behind a Prometheus exporter with its own
// registry. The returned handler serves that registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	reg := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("gcodeml")
	m := &Metrics{meter: meter}

	if m.SubmissionsTotal, err = meter.Int64Counter(
		"gcodeml_submissions_total",
		metric.WithDescription("Jobs accepted by the submission tool"),
	); err != nil {
		return nil, nil, err
	}
	if m.SubmissionErrors, err = meter.Int64Counter(
		"gcodeml_submission_failures_total",
		metric.WithDescription("Submission attempts without a job id"),
	); err != nil {
		return nil, nil, err
	}
	if m.PollsTotal, err = meter.Int64Counter(
		"gcodeml_polls_total",
		metric.WithDescription("Status tool polls"),
	); err != nil {
		return nil, nil, err
	}
	if m.PollRecords, err = meter.Int64Gauge(
		"gcodeml_poll_records",
		metric.WithDescription("Job records parsed from the last status poll"),
	); err != nil {
		return nil, nil, err
	}
	if m.TerminationsTotal, err = meter.Int64Counter(
		"gcodeml_terminations_total",
		metric.WithDescription("Jobs observed in a terminal status"),
	); err != nil {
		return nil, nil, err
	}
	if m.JobsActive, err = meter.Int64UpDownCounter(
		"gcodeml_jobs_active",
		metric.WithDescription("Submitted jobs not yet terminal"),
	); err != nil {
		return nil, nil, err
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
}

// RecordSubmission records one submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, cluster string, accepted bool) {
	if m == nil {
		return
	}
	if !accepted {
		m.SubmissionErrors.Add(ctx, 1)
		return
	}
	attrs := metric.WithAttributes(clusterAttr(cluster))
	m.SubmissionsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordPoll records one status poll.
func (m *Metrics) RecordPoll(ctx context.Context, records, terminal int) {
	if m == nil {
		return
	}
	m.PollsTotal.Add(ctx, 1)
	m.PollRecords.Record(ctx, int64(records), metric.WithAttributes(attribute.Bool("terminal", false)))
	m.PollRecords.Record(ctx, int64(terminal), metric.WithAttributes(attribute.Bool("terminal", true)))
}

// RecordTermination records a job reaching a terminal status.
func (m *Metrics) RecordTermination(ctx context.Context, cluster, status string) {
	if m == nil {
		return
	}
	m.TerminationsTotal.Add(ctx, 1, metric.WithAttributes(clusterAttr(cluster), attribute.String("status", status)))
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(clusterAttr(cluster)))
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", normalizePath(path)),
		attribute.String("status", fmt.Sprintf("%dxx", statusCode/100)),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

func clusterAttr(cluster string) attribute.KeyValue {
	if cluster == "" {
		cluster = "unknown"
	}
	return attribute.String("cluster", cluster)
}

// normalizePath collapses session names to keep label cardinality bounded.
// /v1/sessions/abc/clusters -> /v1/sessions/{name}/clusters
func normalizePath(path string) string {
	const prefix = "/v1/sessions/"
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return path
	}
	rest := path[len(prefix):]
	if i := strings.Index(rest, "/"); i >= 0 {
		return prefix + "{name}" + rest[i:]
	}
	return prefix + "{name}"
}
