// Package metric holds the certificate manager's Prometheus collectors and
// the HTTP endpoint that serves them.
//
// NewRegistry builds a private registry with the core Metrics plus the Go
// runtime and process collectors. Other components add collectors through
// the Registrar interface:
//
//	registry := metric.NewRegistry()
//	_ = registry.Register("gateway", "requests_total", requests)
//
//	server := metric.NewServer(":9090", "/metrics", registry, nil)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
package metric
