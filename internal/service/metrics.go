package service

import (
	"fmt"
	"time"

	"github.com/haatos/readycheck/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RunMetrics receives pipeline observations. Implementations never fail the
// caller.
type RunMetrics interface {
	ObserveStage(stage string, outcome StageOutcome)
	ObserveRun(trigger store.Trigger, conclusion store.Conclusion, duration time.Duration)
}

type PrometheusMetrics struct {
	stageOutcomes *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	logger        *zap.Logger
}

func NewPrometheusMetrics(reg prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	m := &PrometheusMetrics{
		stageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readycheck_stage_outcomes_total",
				Help: "Pipeline stage executions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readycheck_runs_total",
				Help: "Finished pipeline runs by trigger and conclusion",
			},
			[]string{"trigger", "conclusion"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "readycheck_run_duration_seconds",
				Help:    "Wall time of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"trigger"},
		),
		logger: logger,
	}
	reg.MustRegister(m.stageOutcomes, m.runs, m.runDuration)
	return m
}

func (m *PrometheusMetrics) ObserveStage(stage string, outcome StageOutcome) {
	defer m.absorbPanic("stage")
	m.stageOutcomes.WithLabelValues(stage, string(outcome)).Inc()
}

func (m *PrometheusMetrics) ObserveRun(trigger store.Trigger, conclusion store.Conclusion, duration time.Duration) {
	defer m.absorbPanic("run")
	m.runs.WithLabelValues(string(trigger), string(conclusion)).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) absorbPanic(metric string) {
	if r := recover(); r != nil {
		m.logger.Warn("err recording metric", zap.String("metric", metric), zap.String("panic", fmt.Sprint(r)))
	}
}
