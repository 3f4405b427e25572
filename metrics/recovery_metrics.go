package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RecoveryMetrics tracks protocol operation outcomes and the size of the
// three recovery tables.
type RecoveryMetrics struct {
	Registry *prometheus.Registry

	opsProcessedTotal *prometheus.CounterVec
	opsFailedTotal    *prometheus.CounterVec

	activeConfigsGauge    prometheus.Gauge
	activeAttemptsGauge   prometheus.Gauge
	activeLinksGauge      prometheus.Gauge
	depositsReservedTotal prometheus.Counter
	depositsSlashedTotal  prometheus.Counter
}

var (
	recoveryMetricsRegisterOnce sync.Once
	recoveryMetricsInstance     *RecoveryMetrics
)

// NewRecoveryMetrics returns the process-wide recovery metrics instance.
func NewRecoveryMetrics() *RecoveryMetrics {
	recoveryMetricsRegisterOnce.Do(func() {
		registry := prometheus.NewRegistry()

		recoveryMetricsInstance = &RecoveryMetrics{
			Registry: registry,
			opsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "recoveryd_operations_total",
				Help: "Total number of protocol operations applied successfully",
			}, []string{"operation"}),
			opsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "recoveryd_operations_failed_total",
				Help: "Total number of protocol operations rejected",
			}, []string{"operation"}),
			activeConfigsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "recoveryd_recovery_configs",
				Help: "Number of stored recovery configurations",
			}),
			activeAttemptsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "recoveryd_active_recoveries",
				Help: "Number of active recovery attempts",
			}),
			activeLinksGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "recoveryd_proxy_links",
				Help: "Number of active proxy links",
			}),
			depositsReservedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "recoveryd_deposits_reserved_total",
				Help: "Cumulative protocol units reserved as deposits",
			}),
			depositsSlashedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "recoveryd_deposits_slashed_total",
				Help: "Cumulative protocol units moved from rescuers to lost accounts on closure",
			}),
		}

		registry.MustRegister(
			recoveryMetricsInstance.opsProcessedTotal,
			recoveryMetricsInstance.opsFailedTotal,
			recoveryMetricsInstance.activeConfigsGauge,
			recoveryMetricsInstance.activeAttemptsGauge,
			recoveryMetricsInstance.activeLinksGauge,
			recoveryMetricsInstance.depositsReservedTotal,
			recoveryMetricsInstance.depositsSlashedTotal,
		)
	})

	return recoveryMetricsInstance
}

func (m *RecoveryMetrics) IncOpsProcessed(op string) {
	m.opsProcessedTotal.WithLabelValues(op).Inc()
}

func (m *RecoveryMetrics) IncOpsFailed(op string) {
	m.opsFailedTotal.WithLabelValues(op).Inc()
}

func (m *RecoveryMetrics) IncConfigs()    { m.activeConfigsGauge.Inc() }
func (m *RecoveryMetrics) DecConfigs()    { m.activeConfigsGauge.Dec() }
func (m *RecoveryMetrics) IncAttempts()   { m.activeAttemptsGauge.Inc() }
func (m *RecoveryMetrics) DecAttempts()   { m.activeAttemptsGauge.Dec() }
func (m *RecoveryMetrics) IncLinks()      { m.activeLinksGauge.Inc() }
func (m *RecoveryMetrics) DecLinks()      { m.activeLinksGauge.Dec() }

func (m *RecoveryMetrics) AddDepositReserved(amount uint64) {
	m.depositsReservedTotal.Add(float64(amount))
}

func (m *RecoveryMetrics) AddDepositSlashed(amount uint64) {
	m.depositsSlashedTotal.Add(float64(amount))
}
