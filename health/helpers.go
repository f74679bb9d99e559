package health

import (
	"fmt"
	"strings"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func severity(state string) int {
	switch state {
	case StateDegraded:
		return 1
	case StateUnhealthy:
		return 2
	default:
		return 0
	}
}

// Aggregate combines the statuses of adapters and connections into one
// report. The worst state wins and the message names the components in that
// state. Adapter traffic counters are summed into the aggregate metrics.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components registered")
	}

	state := StateHealthy
	var worst []string
	var total *Metrics
	for _, sub := range subStatuses {
		switch s := severity(sub.Status); {
		case s > severity(state):
			state = sub.Status
			worst = append(worst[:0], sub.Component)
		case s > 0 && s == severity(state):
			worst = append(worst, sub.Component)
		}
		if sub.Metrics != nil {
			if total == nil {
				total = &Metrics{}
			}
			total.add(sub.Metrics)
		}
	}

	msg := fmt.Sprintf("%d of %d healthy", len(subStatuses), len(subStatuses))
	if state != StateHealthy {
		msg = state + ": " + strings.Join(worst, ", ")
	}
	status := newStatus(component, state, msg)
	status.SubStatuses = append([]Status(nil), subStatuses...)
	status.Metrics = total
	return status
}

// add folds m into the running totals. Uptime and LastActivity keep the
// largest value.
func (t *Metrics) add(m *Metrics) {
	t.ErrorCount += m.ErrorCount
	t.MessagesSent += m.MessagesSent
	t.MessagesReceived += m.MessagesReceived
	t.PullFallbacks += m.PullFallbacks
	if m.Uptime > t.Uptime {
		t.Uptime = m.Uptime
	}
	if m.LastActivity.After(t.LastActivity) {
		t.LastActivity = m.LastActivity
	}
}
