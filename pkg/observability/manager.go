package observability

import (
	"context"
	"net/http"

	"github.com/wuTims/tau2-bench-agent/pkg/config"
)

// Manager owns the metrics and tracing subsystems. Subsystems that are
// disabled in config stay nil inside it; every method tolerates a nil
// receiver so a server built without observability needs no branches.
type Manager struct {
	metrics *Metrics
	tracer  *Tracer
}

// NewManager initialises observability from config.
func NewManager(ctx context.Context, cfg *config.ObservabilityConfig) (*Manager, error) {
	m := &Manager{}
	if cfg == nil {
		return m, nil
	}

	if cfg.MetricsEnabled {
		metrics, err := NewMetrics()
		if err != nil {
			return nil, err
		}
		m.metrics = metrics
	}

	tracer, err := NewTracer(ctx, &cfg.Tracing)
	if err != nil {
		return nil, err
	}
	m.tracer = tracer

	return m, nil
}

// Metrics returns the instrument set, nil when metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracer returns the tracer, nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// MetricsEnabled reports whether an exposition endpoint should be mounted.
func (m *Manager) MetricsEnabled() bool {
	return m != nil && m.metrics != nil
}

// MetricsHandler serves the Prometheus exposition endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// Shutdown stops both subsystems, flushing pending data.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.tracer.Shutdown(ctx); err != nil {
		return err
	}
	return m.metrics.Shutdown(ctx)
}
