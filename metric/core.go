package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "certmgr"

// Certificate status label values used by CertificateStatus.
const (
	StatusValid    = "valid"
	StatusExpiring = "expiring"
	StatusExpired  = "expired"
	StatusInvalid  = "invalid"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var certStatuses = []string{StatusValid, StatusExpiring, StatusExpired, StatusInvalid}

// Metrics holds the certificate manager's own collectors.
type Metrics struct {
	CertificateStatus *prometheus.GaugeVec
	RootCADaysLeft    prometheus.Gauge
	RenewalsTotal     *prometheus.CounterVec
	ManualFixPending  prometheus.Gauge

	SweepDuration prometheus.Histogram
	SweepsTotal   *prometheus.CounterVec

	ReconfigNotices *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

// NewMetrics builds unregistered collectors. NewRegistry registers them.
func NewMetrics() *Metrics {
	return &Metrics{
		CertificateStatus: gaugeVec("certificates", "status",
			"Stored certificates per status seen by the last sweep", "status"),
		RootCADaysLeft: gauge("root_ca", "days_to_expiration",
			"Days until the root CA certificate expires"),
		RenewalsTotal: counterVec("certificates", "renewals_total",
			"Certificate renewals and regenerations", "cert", "result"),
		ManualFixPending: gauge("certificates", "manual_fix_pending",
			"Certificates that need operator action"),

		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of one certificate sweep",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		SweepsTotal: counterVec("sweep", "runs_total",
			"Certificate sweeps by outcome", "result"),

		ReconfigNotices: counterVec("reconfig", "notices_total",
			"Reconfiguration notices published", "result"),
		ErrorsTotal: counterVec("errors", "total",
			"Errors by component and class", "component", "type"),

		NATSConnected: gauge("nats", "connected",
			"1 while the NATS connection is up"),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "NATS reconnections",
		}),
		NATSCircuitBreaker: gauge("nats", "circuit_breaker",
			"1 while the NATS circuit breaker is open"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CertificateStatus, m.RootCADaysLeft, m.RenewalsTotal, m.ManualFixPending,
		m.SweepDuration, m.SweepsTotal,
		m.ReconfigNotices, m.ErrorsTotal,
		m.NATSConnected, m.NATSReconnects, m.NATSCircuitBreaker,
	}
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func flag(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

// RecordCertificateCounts replaces the per-status gauges. Statuses missing
// from counts drop to zero.
func (m *Metrics) RecordCertificateCounts(counts map[string]int) {
	for _, status := range certStatuses {
		m.CertificateStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (m *Metrics) RecordRootCADays(days int) {
	m.RootCADaysLeft.Set(float64(days))
}

func (m *Metrics) RecordRenewal(cert string, err error) {
	m.RenewalsTotal.WithLabelValues(cert, result(err)).Inc()
}

func (m *Metrics) RecordManualFix(n int) {
	m.ManualFixPending.Set(float64(n))
}

func (m *Metrics) RecordSweep(d time.Duration, err error) {
	m.SweepDuration.Observe(d.Seconds())
	m.SweepsTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordReconfigNotice(err error) {
	m.ReconfigNotices.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

func (m *Metrics) RecordNATSStatus(connected bool) {
	m.NATSConnected.Set(flag(connected))
}

func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

func (m *Metrics) RecordCircuitBreakerState(open bool) {
	m.NATSCircuitBreaker.Set(flag(open))
}
