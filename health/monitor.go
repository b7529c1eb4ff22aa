package health

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Monitor holds the latest Status of each component together with the
// active health checks. It is safe for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Status
	checks     map[string]Check
}

var _ Reporter = (*Monitor)(nil)

func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]Status),
		checks:     make(map[string]Check),
	}
}

// SetCheck raises check, replacing any active check with the same name.
func (m *Monitor) SetCheck(check Check) {
	if check.Timestamp.IsZero() {
		check.Timestamp = time.Now()
	}
	check.Detail = slices.Clone(check.Detail)

	m.mu.Lock()
	m.checks[check.Name] = check
	m.mu.Unlock()
}

// ClearCheck lowers the named check, if raised.
func (m *Monitor) ClearCheck(name string) {
	m.mu.Lock()
	delete(m.checks, name)
	m.mu.Unlock()
}

func (m *Monitor) Check(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Checks returns the active checks ordered by name.
func (m *Monitor) Checks() []Check {
	m.mu.RLock()
	out := slices.Collect(maps.Values(m.checks))
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Check) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Update records status under name. The component name always comes from
// name; a zero timestamp is set to now.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.components[name] = status
	m.mu.Unlock()
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.components[name]
	return s, ok
}

// Components returns the names of the reporting components, sorted.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.components))
}

func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.components, name)
	m.mu.Unlock()
}

// AggregateHealth folds every component and active check into one status
// for system. Sub-statuses are ordered by name.
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.components)+len(m.checks))
	for _, s := range m.components {
		subs = append(subs, s)
	}
	for _, c := range m.checks {
		subs = append(subs, c.Status())
	}
	m.mu.RUnlock()

	slices.SortFunc(subs, func(a, b Status) int { return strings.Compare(a.Component, b.Component) })
	return Aggregate(system, subs)
}
