package service

import (
	"testing"
	"time"

	"github.com/haatos/readycheck/internal/logging"
	"github.com/haatos/readycheck/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics(t *testing.T) {
	// arrange
	logger, logs := logging.NewObservedLogger()
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, logger)

	// act
	m.ObserveStage(StageReviewGuard, OutcomeBlocked)
	m.ObserveStage(StageReviewGuard, OutcomeBlocked)
	m.ObserveStage(StageDocSync, OutcomeErrored)
	m.ObserveRun(store.TriggerWebhook, store.ConclusionFailure, 2*time.Second)

	// assert
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.stageOutcomes.WithLabelValues(StageReviewGuard, string(OutcomeBlocked))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.stageOutcomes.WithLabelValues(StageDocSync, string(OutcomeErrored))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.runs.WithLabelValues(string(store.TriggerWebhook), string(store.ConclusionFailure))))
	assert.Equal(t, 1, promtestutil.CollectAndCount(m.runDuration))
	assert.Zero(t, logs.Len())
}
