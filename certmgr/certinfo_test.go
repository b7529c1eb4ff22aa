package certmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/pkg/sslcerts"
)

func TestCertInfo_DescriptionAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		info       CertInfo
		wantDesc   string
		wantStatus string
	}{
		{
			name:       "expired user-made",
			info:       CertInfo{CertName: "grafana_cert", Target: "host1", UserMade: true, Reason: sslcerts.ReasonExpired, ErrorInfo: "expired"},
			wantDesc:   "Certificate 'grafana_cert (host1)' (user-made) has expired",
			wantStatus: metric.StatusExpired,
		},
		{
			name:       "invalid self-generated",
			info:       CertInfo{CertName: "mgmt_gw_cert", Reason: sslcerts.ReasonKeyMismatch, ErrorInfo: "Private key and certificate do not match up"},
			wantDesc:   "Certificate 'mgmt_gw_cert' (cephadm-signed) is not valid (error: Private key and certificate do not match up)",
			wantStatus: metric.StatusInvalid,
		},
		{
			name:       "expiring",
			info:       CertInfo{CertName: "iscsi_ssl_cert", Target: "iscsi.a", IsValid: true, IsCloseToExpiration: true, DaysToExpiration: 7},
			wantDesc:   "Certificate 'iscsi_ssl_cert (iscsi.a)' (cephadm-signed) is about to expire (remaining days: 7)",
			wantStatus: metric.StatusExpiring,
		},
		{
			name:       "valid",
			info:       CertInfo{CertName: "oauth2_proxy_cert", UserMade: true, IsValid: true, DaysToExpiration: 300},
			wantDesc:   "Certificate 'oauth2_proxy_cert' (user-made) is valid",
			wantStatus: metric.StatusValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDesc, tt.info.Description())
			assert.Equal(t, tt.wantStatus, tt.info.Status())
		})
	}
}

func TestBuildCheck(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	problems := []CertInfo{
		{CertName: "mgmt_gw_cert", UserMade: true, IsValid: true, IsCloseToExpiration: true, DaysToExpiration: 3},
		{CertName: "grafana_cert", Target: "host1", UserMade: true, Reason: sslcerts.ReasonExpired},
		{CertName: "grafana_cert", Target: "host2", UserMade: true, Reason: sslcerts.ReasonMalformed, ErrorInfo: "bad"},
	}

	check := buildCheck(problems, now)
	assert.Equal(t, CheckName, check.Name)
	assert.Equal(t, health.SeverityError, check.Severity)
	assert.Equal(t, 3, check.Count)
	assert.Equal(t, "Detected 3 cephadm certificate(s) issues: 1 invalid, 1 expired, 1 expiring", check.Summary)
	assert.Equal(t, []string{
		"Certificate 'grafana_cert (host1)' (user-made) has expired",
		"Certificate 'grafana_cert (host2)' (user-made) is not valid (error: bad)",
		"Certificate 'mgmt_gw_cert' (user-made) is about to expire (remaining days: 3)",
	}, check.Detail)
	assert.Equal(t, now, check.Timestamp)

	warn := buildCheck(problems[:1], now)
	assert.Equal(t, health.SeverityWarning, warn.Severity)
}
