package certmgr

import (
	"fmt"
	"sort"
	"time"

	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/tlsobject"
)

// CertInfo is the outcome of validating one certificate instance.
type CertInfo struct {
	CertName            string          `json:"cert_name"`
	Target              string          `json:"target,omitempty"`
	UserMade            bool            `json:"user_made"`
	IsValid             bool            `json:"is_valid"`
	IsCloseToExpiration bool            `json:"is_close_to_expiration"`
	DaysToExpiration    int             `json:"days_to_expiration"`
	ErrorInfo           string          `json:"error_info,omitempty"`
	Reason              sslcerts.Reason `json:"reason,omitempty"`
}

// IsExpired reports whether the certificate failed validation by expiry.
func (c CertInfo) IsExpired() bool {
	return !c.IsValid && c.Reason == sslcerts.ReasonExpired
}

// Status returns the metric status label for the certificate.
func (c CertInfo) Status() string {
	switch {
	case c.IsExpired():
		return metric.StatusExpired
	case !c.IsValid:
		return metric.StatusInvalid
	case c.IsCloseToExpiration:
		return metric.StatusExpiring
	default:
		return metric.StatusValid
	}
}

// Description renders the operator-facing health detail line.
func (c CertInfo) Description() string {
	origin := "cephadm-signed"
	if c.UserMade {
		origin = "user-made"
	}
	name := c.CertName
	if c.Target != "" {
		name = fmt.Sprintf("%s (%s)", c.CertName, c.Target)
	}

	switch {
	case c.IsExpired():
		return fmt.Sprintf("Certificate '%s' (%s) has expired", name, origin)
	case !c.IsValid:
		return fmt.Sprintf("Certificate '%s' (%s) is not valid (error: %s)", name, origin, c.ErrorInfo)
	case c.IsCloseToExpiration:
		return fmt.Sprintf("Certificate '%s' (%s) is about to expire (remaining days: %d)", name, origin, c.DaysToExpiration)
	default:
		return fmt.Sprintf("Certificate '%s' (%s) is valid", name, origin)
	}
}

func (c CertInfo) healthy() bool {
	return c.IsValid && !c.IsCloseToExpiration
}

// validate classifies one cert/key pair. Self-generated material must also
// chain to the active root. Either payload may be empty.
func (m *Manager) validate(certName, target, certPEM, keyPEM string, userMade bool) CertInfo {
	info := CertInfo{CertName: certName, Target: target, UserMade: userMade}

	days, err := m.ssl.VerifyTLS(certPEM, keyPEM)
	if err == nil && !userMade {
		err = m.ssl.VerifyIssuedByRoot(certPEM)
	}
	if err != nil {
		info.ErrorInfo = err.Error()
		info.Reason = sslcerts.ReasonOf(err)
		switch info.Reason {
		case sslcerts.ReasonMissingKey:
			info.ErrorInfo = "missing key"
		case sslcerts.ReasonMissingCert:
			info.ErrorInfo = "missing cert"
		}
		return info
	}

	info.IsValid = true
	info.DaysToExpiration = days
	info.IsCloseToExpiration = days < m.cfg.RenewalThresholdDays
	return info
}

// validateCertOnly checks a certificate that has no paired key: it must
// parse and be inside its validity window.
func (m *Manager) validateCertOnly(certName, target, certPEM string, userMade bool) CertInfo {
	info := CertInfo{CertName: certName, Target: target, UserMade: userMade}

	days, err := m.ssl.DaysToExpiration(certPEM)
	if err != nil {
		info.ErrorInfo = err.Error()
		info.Reason = sslcerts.ReasonOf(err)
		return info
	}
	if days < 0 {
		info.ErrorInfo = fmt.Sprintf("Certificate expired %d day(s) ago", -days)
		info.Reason = sslcerts.ReasonExpired
		return info
	}
	info.IsValid = true
	info.DaysToExpiration = days
	info.IsCloseToExpiration = days < m.cfg.RenewalThresholdDays
	return info
}

func sortedInfos(problems map[problemKey]CertInfo) []CertInfo {
	out := make([]CertInfo, 0, len(problems))
	for _, info := range problems {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CertName != out[j].CertName {
			return out[i].CertName < out[j].CertName
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// publishHealth replaces the certificate health check with one built from
// problems, or clears it when problems is empty.
func (m *Manager) publishHealth(problems []CertInfo) {
	if m.metrics != nil {
		m.metrics.RecordManualFix(len(problems))
	}
	if m.health == nil {
		return
	}
	if len(problems) == 0 {
		m.health.ClearCheck(CheckName)
		return
	}
	m.health.SetCheck(buildCheck(problems, time.Now()))
}

func buildCheck(problems []CertInfo, now time.Time) health.Check {
	var invalid, expired, expiring int
	detail := make([]string, 0, len(problems))
	for _, p := range problems {
		switch {
		case p.IsExpired():
			expired++
		case !p.IsValid:
			invalid++
		case p.IsCloseToExpiration:
			expiring++
		}
		detail = append(detail, p.Description())
	}
	sort.Strings(detail)

	severity := health.SeverityWarning
	if invalid+expired > 0 {
		severity = health.SeverityError
	}
	summary := fmt.Sprintf("Detected %d cephadm certificate(s) issues: %d invalid, %d expired, %d expiring",
		len(problems), invalid, expired, expiring)
	return health.Check{
		Name:      CheckName,
		Severity:  severity,
		Summary:   summary,
		Count:     len(problems),
		Detail:    detail,
		Timestamp: now,
	}
}

// serviceFor names the service to reconfigure after cert changed.
func serviceFor(certName string, scope tlsobject.Scope, target string) string {
	if scope == tlsobject.ScopeService && target != "" {
		return target
	}
	svc, _ := tlsobject.ServiceForCert(certName)
	return svc
}
