package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/certmgr/errors"
)

// Registrar lets a component add its own collectors next to the core ones.
type Registrar interface {
	Register(component, name string, c prometheus.Collector) error
	Unregister(component, name string) bool
}

// Registry is a private Prometheus registry preloaded with the core Metrics
// and the Go runtime and process collectors.
type Registry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	extra map[string]prometheus.Collector // keyed "component.name"
}

var _ Registrar = (*Registry)(nil)

func NewRegistry() *Registry {
	r := &Registry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		extra: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus exposes the underlying registry for scraping and tests.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Core returns the certificate manager metrics.
func (r *Registry) Core() *Metrics {
	return r.core
}

// Register adds c under component and name. Registering the same key twice,
// or a collector whose metric names clash with an existing one, is invalid.
func (r *Registry) Register(component, name string, c prometheus.Collector) error {
	key := component + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.extra[key]; dup {
		return errors.WrapInvalid(errors.ErrInvalidData, "Registry", "Register", "register duplicate "+key)
	}
	if err := r.prom.Register(c); err != nil {
		var clash prometheus.AlreadyRegisteredError
		if errors.As(err, &clash) {
			return errors.WrapInvalid(err, "Registry", "Register", "register clashing "+key)
		}
		return errors.WrapFatal(err, "Registry", "Register", "register "+key)
	}
	r.extra[key] = c
	return nil
}

// Unregister removes a collector added with Register. It reports whether
// anything was removed.
func (r *Registry) Unregister(component, name string) bool {
	key := component + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.extra[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.extra, key)
	return true
}
