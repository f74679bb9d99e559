package health

import (
	"sort"
	"sync"
	"time"
)

// Checker reports its own health on demand
type Checker interface {
	Health() Status
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func() Status

// Health implements Checker
func (f CheckerFunc) Health() Status { return f() }

// Monitor tracks the health of named components. Components either push
// updates with Update or are polled through a registered Checker.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
	}
}

// Register polls c for the health of name on every Refresh and AggregateHealth
func (m *Monitor) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(name, status)
}

func (m *Monitor) setLocked(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Refresh polls every registered checker. Checkers run without the monitor
// lock held.
func (m *Monitor) Refresh() {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	results := make(map[string]Status, len(checkers))
	for name, c := range checkers {
		results[name] = c.Health()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, status := range results {
		m.setLocked(name, status)
	}
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component and its checker from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checkers, name)
}

// AggregateHealth refreshes the checkers and returns an aggregated health
// status, sub-statuses sorted by component name
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.Refresh()

	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(systemName, subStatuses)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}
