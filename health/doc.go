// Package health tracks whether the certificate manager is working.
//
// Two kinds of input feed it. Components (the store, the NATS connection, the
// sweeper) report a Status with Monitor.Update. Named checks such as
// CEPHADM_CERT_ERROR are raised with Monitor.SetCheck; a check carries a
// severity, a summary and one detail line per affected certificate, and
// raising it again replaces it in full.
//
// AggregateHealth folds both into one Status. The worst state wins: an error
// check or an unhealthy component makes the system unhealthy, a warning
// degraded. The aggregate message names the components responsible.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("store", "loaded")
//	monitor.SetCheck(health.Check{Name: "CEPHADM_CERT_ERROR", Severity: health.SeverityWarning, Count: 1})
//	monitor.AggregateHealth("certmgr").Message // "degraded: CEPHADM_CERT_ERROR"
package health
