package health

import (
	"fmt"
	"time"
)

// Severity grades a named health check.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Check is a named, operator-visible health condition. Setting a check with
// the same name replaces it in full.
type Check struct {
	Name      string    `json:"name"`
	Severity  Severity  `json:"severity"`
	Summary   string    `json:"summary"`
	Count     int       `json:"count"`
	Detail    []string  `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Status maps the check onto the component status model: errors are
// unhealthy, warnings degraded.
func (c Check) Status() Status {
	msg := c.Summary
	if msg == "" {
		msg = fmt.Sprintf("%d issue(s)", c.Count)
	}

	var s Status
	if c.Severity == SeverityError {
		s = NewUnhealthy(c.Name, msg)
	} else {
		s = NewDegraded(c.Name, msg)
	}
	if !c.Timestamp.IsZero() {
		s.Timestamp = c.Timestamp
	}
	return s
}

// Reporter receives health checks. Monitor implements it.
type Reporter interface {
	SetCheck(check Check)
	ClearCheck(name string)
}
