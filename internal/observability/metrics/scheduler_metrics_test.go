package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func newTestSchedulerMetrics(t *testing.T) (*SchedulerMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return newSchedulerMetrics(registry, Config{ServiceName: "carebound-test", Environment: "test"}), registry
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchesLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchesLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if got[name] != value {
			return false
		}
	}
	return true
}

func TestIncJobRunCountsPerJob(t *testing.T) {
	m, registry := newTestSchedulerMetrics(t)

	m.IncJobRun("build_payouts")
	m.IncJobRun("build_payouts")
	m.IncJobRun("reconcile")

	require.Equal(t, 2.0, counterValue(t, registry, "carebound_scheduler_job_runs_total", map[string]string{"job": "build_payouts"}))
	require.Equal(t, 1.0, counterValue(t, registry, "carebound_scheduler_job_runs_total", map[string]string{"job": "reconcile"}))
}

func TestIncJobErrorClassifiesReason(t *testing.T) {
	m, registry := newTestSchedulerMetrics(t)

	m.IncJobError("execute_payouts", context.DeadlineExceeded)
	m.IncJobError("execute_payouts", &pgconn.PgError{Code: "55P03"})
	m.IncJobError("execute_payouts", &pgconn.PgError{Code: "23505"})
	m.IncJobError("execute_payouts", errors.New("boom"))

	require.Equal(t, 1.0, counterValue(t, registry, "carebound_scheduler_job_errors_total", map[string]string{"job": "execute_payouts", "reason": SchedulerJobReasonDeadlineExceeded}))
	require.Equal(t, 1.0, counterValue(t, registry, "carebound_scheduler_job_errors_total", map[string]string{"job": "execute_payouts", "reason": SchedulerJobReasonDBLockTimeout}))
	require.Equal(t, 1.0, counterValue(t, registry, "carebound_scheduler_job_errors_total", map[string]string{"job": "execute_payouts", "reason": SchedulerJobReasonUniqueViolation}))
	require.Equal(t, 1.0, counterValue(t, registry, "carebound_scheduler_job_errors_total", map[string]string{"job": "execute_payouts", "reason": SchedulerJobReasonUnknown}))
}

func TestAddBatchProcessedIgnoresNonPositiveCounts(t *testing.T) {
	m, registry := newTestSchedulerMetrics(t)

	m.AddBatchProcessed("build_payouts", "payout_transactions", 3)
	m.AddBatchProcessed("build_payouts", "payout_transactions", 0)
	m.AddBatchProcessed("build_payouts", "payout_transactions", -1)

	require.Equal(t, 3.0, counterValue(t, registry, "carebound_scheduler_batch_processed_total", map[string]string{"job": "build_payouts", "resource": "payout_transactions"}))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *SchedulerMetrics

	m.IncJobRun("build_payouts")
	m.IncJobTimeout("build_payouts")
	m.IncJobError("build_payouts", errors.New("boom"))
	m.ObserveJobDuration("build_payouts", time.Second)
	m.ObserveRunLoopLag(time.Second)
	m.ObserveDBLockWait(LockResourceEntriesForClaim, time.Second)
	m.AddBatchProcessed("build_payouts", "payout_transactions", 1)
}
