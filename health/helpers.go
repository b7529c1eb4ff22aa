package health

import (
	"fmt"
	"strings"
	"time"
)

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate folds subStatuses into one status for component. The result takes
// the worst sub-state and its message names the sub-components in that state.
// The input slice is copied.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "nothing to report")
	}

	worst := StateHealthy
	for _, sub := range subStatuses {
		if sub.Status.rank() > worst.rank() {
			worst = sub.Status
		}
	}
	if worst.rank() == StateUnhealthy.rank() {
		worst = StateUnhealthy
	}

	var culprits []string
	for _, sub := range subStatuses {
		if sub.Status.rank() == worst.rank() && worst != StateHealthy {
			culprits = append(culprits, sub.Component)
		}
	}

	msg := fmt.Sprintf("all %d components healthy", len(subStatuses))
	if len(culprits) > 0 {
		msg = fmt.Sprintf("%s: %s", worst, strings.Join(culprits, ", "))
	}

	status := newStatus(component, worst, msg)
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}
