// Package telemetry turns session operation logs into zap entries and
// Prometheus counters.
package telemetry

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	metricsNamespace = "stakingdash"
	statusDiscarded  = "discarded"
	statusError      = "error"
)

// ZapOperationLogger writes session operations to a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; nil selects a no-op logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry staking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("wallet", entry.Identity.String()),
		zap.Uint64("cycle", entry.Cycle),
		zap.String("status", entry.Status),
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source.String()))
	}
	if entry.Operation == "select_pool" || entry.Operation == "clear_selection" {
		fields = append(fields, zap.Int("pool_index", entry.PoolIndex))
	}
	switch entry.Status {
	case statusError:
		operationLogger.logger.Warn("staking operation failed", append(fields, zap.Error(entry.Error))...)
	case statusDiscarded:
		operationLogger.logger.Debug("stale fetch result discarded", fields...)
	default:
		operationLogger.logger.Info("staking operation", fields...)
	}
}

// Metrics holds the dashboard's Prometheus collectors in a dedicated registry.
type Metrics struct {
	registry         *prometheus.Registry
	operations       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	activeDashboards prometheus.Gauge
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "session_operations_total",
		Help:      "Session operations and fetch outcomes by operation, source and status.",
	}, []string{"operation", "source", "status"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	activeDashboards := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "active_dashboards",
		Help:      "Number of per-user dashboards held in memory.",
	})

	registry.MustRegister(operations)
	registry.MustRegister(httpRequests)
	registry.MustRegister(activeDashboards)

	return &Metrics{
		registry:         registry,
		operations:       operations,
		httpRequests:     httpRequests,
		activeDashboards: activeDashboards,
	}
}

// Registry returns the registry backing Handler.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// LogOperation counts a session operation.
func (metrics *Metrics) LogOperation(_ context.Context, entry staking.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Source.String(), entry.Status).Inc()
}

// ObserveRequest counts an HTTP request.
func (metrics *Metrics) ObserveRequest(route string, statusCode int) {
	metrics.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// SetActiveDashboards records the dashboard registry size.
func (metrics *Metrics) SetActiveDashboards(count int) {
	metrics.activeDashboards.Set(float64(count))
}

// Handler serves the Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Fanout forwards every operation to each logger.
type Fanout []staking.OperationLogger

func (fanout Fanout) LogOperation(ctx context.Context, entry staking.OperationLog) {
	for _, logger := range fanout {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
