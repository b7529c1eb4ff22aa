package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheck_Status(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	errCheck := Check{Name: "CEPHADM_CERT_ERROR", Severity: SeverityError, Summary: "2 issues", Timestamp: ts}
	s := errCheck.Status()
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "CEPHADM_CERT_ERROR", s.Component)
	assert.Equal(t, "2 issues", s.Message)
	assert.Equal(t, ts, s.Timestamp)

	warn := Check{Name: "CEPHADM_CERT_ERROR", Severity: SeverityWarning, Count: 1}
	s = warn.Status()
	assert.True(t, s.IsDegraded())
	assert.Equal(t, "1 issue(s)", s.Message)
}
