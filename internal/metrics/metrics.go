package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

const (
	MetricsNamespace = "fixture_runner"
)

// Metrics records scheduling events of a run. It implements executor.Observer.
type Metrics struct {
	registry *prometheus.Registry

	testsLaunched  prometheus.Counter
	testsRunning   prometheus.Gauge
	testsCompleted *prometheus.CounterVec
	testDuration   prometheus.Histogram
	messagesTotal  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		testsLaunched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_launched_total",
			Help:      "Number of test units handed to a worker",
		}),
		testsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_running",
			Help:      "Number of test units currently in flight",
		}),
		testsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_completed_total",
			Help:      "Number of completed tests by outcome",
		}, []string{
			"outcome",
		}),
		testDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Run time of successful tests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "messages_total",
			Help:      "Number of protocol messages emitted by kind",
		}, []string{
			"kind",
		}),
	}
}

func (m *Metrics) UnitLaunched(string) {
	m.testsLaunched.Inc()
	m.testsRunning.Inc()
}

func (m *Metrics) UnitFinished(result protocol.TestResult) {
	m.testsRunning.Dec()
	m.testsCompleted.WithLabelValues(string(result.Outcome.Kind())).Inc()
	if s, ok := result.Outcome.(protocol.Success); ok {
		m.testDuration.Observe(s.Time)
	}
}

func (m *Metrics) MessageEmitted(msg protocol.Message) {
	m.messagesTotal.WithLabelValues(string(msg.Kind())).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
