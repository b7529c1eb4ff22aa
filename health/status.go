package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a component.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// rank orders states from best to worst. Unknown states rank as unhealthy.
func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of one component, or of the whole system when
// SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// Messages reach the /health endpoint, so addresses and secrets are masked.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return strings.TrimSpace(msg)
}

// FromError builds the status of a named component from its last error.
// A nil error yields a healthy status. Error text is sanitized.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "ok")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
