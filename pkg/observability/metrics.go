// Package observability wires metrics and distributed tracing for the
// harness. Metrics are OpenTelemetry instruments exported through a
// dedicated Prometheus registry; traces go to an OTLP collector or to
// stdout. Every recording method is nil-safe so call sites never need
// an enabled check.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "tau2-bench-agent"

// Metrics holds the harness instruments. A nil *Metrics is the disabled
// state; all methods are no-ops on it.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	httpRequests  metric.Int64Counter
	httpDuration  metric.Float64Histogram
	toolCalls     metric.Int64Counter
	toolDuration  metric.Float64Histogram
	evaluations   metric.Int64Counter
	simulations   metric.Int64Counter
	agentRequests metric.Int64Counter
}

// NewMetrics creates the instrument set backed by a fresh Prometheus
// registry. The registry is private to this Metrics so repeated
// construction never trips duplicate registration.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	m := &Metrics{
		registry: registry,
		provider: provider,
	}

	m.httpRequests, err = meter.Int64Counter(
		"tau2_http_requests_total",
		metric.WithDescription("Total HTTP requests served by the harness"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"tau2_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		"tau2_tool_calls_total",
		metric.WithDescription("Total tool invocations by the controller"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"tau2_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.evaluations, err = meter.Int64Counter(
		"tau2_evaluations_total",
		metric.WithDescription("Completed evaluation runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	m.simulations, err = meter.Int64Counter(
		"tau2_simulations_total",
		metric.WithDescription("Simulations executed across evaluation runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulations counter: %w", err)
	}

	m.agentRequests, err = meter.Int64Counter(
		"tau2_agent_requests_total",
		metric.WithDescription("Outbound protocol requests sent to agents under test"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent requests counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

// RecordToolExecution records one tool call made by the controller.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
	))
}

// RecordEvaluation records the outcome of one evaluation run:
// the run itself, each simulation by outcome, and the outbound
// requests the protocol client issued against the agent under test.
func (m *Metrics) RecordEvaluation(ctx context.Context, domain string, simulations, successes, agentRequests int) {
	if m == nil {
		return
	}

	m.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", domain),
	))
	if successes > 0 {
		m.simulations.Add(ctx, int64(successes), metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("outcome", "success"),
		))
	}
	if failures := simulations - successes; failures > 0 {
		m.simulations.Add(ctx, int64(failures), metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("outcome", "failure"),
		))
	}
	if agentRequests > 0 {
		m.agentRequests.Add(ctx, int64(agentRequests), metric.WithAttributes(
			attribute.String("domain", domain),
		))
	}
}

// Handler serves the Prometheus exposition endpoint, or 503 when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
