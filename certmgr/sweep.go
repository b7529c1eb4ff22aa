package certmgr

import (
	"context"
	"sort"
	"time"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/tlsobject"
)

type sweepResult struct {
	services map[string]struct{}
	problems []CertInfo
	counts   map[string]int
}

func (r *sweepResult) touch(service string) {
	if service != "" {
		r.services[service] = struct{}{}
	}
}

func (r *sweepResult) sortedServices() []string {
	var out []string
	for svc := range r.services {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// CheckServicesCertificates validates every stored certificate except the
// root CA. Expiring self-generated certificates are renewed in place and
// invalid ones removed so the next deployment issues fresh ones. User-made
// material, and everything when auto-rotation is off, is left untouched and
// reported through the certificate health check, which this call replaces
// in full. It returns the sorted services whose certificates changed.
// Overlapping calls fail with ErrSweepInProgress.
func (m *Manager) CheckServicesCertificates(ctx context.Context) ([]string, error) {
	if err := m.ready("CheckServicesCertificates"); err != nil {
		return nil, err
	}
	if !m.sweeping.CompareAndSwap(false, true) {
		return nil, errors.WrapTransient(errors.ErrSweepInProgress, "CertMgr", "CheckServicesCertificates", "start sweep")
	}
	defer m.sweeping.Store(false)

	start := time.Now()
	res := &sweepResult{
		services: make(map[string]struct{}),
		counts:   make(map[string]int),
	}

	err := m.sweepCerts(ctx, res)
	if err == nil {
		err = m.sweepOrphanKeys(ctx, res)
	}
	if m.metrics != nil {
		m.metrics.RecordSweep(time.Since(start), err)
	}
	if err != nil {
		m.logger.Warn("Certificate check interrupted", "error", err)
		return nil, errors.WrapTransient(err, "CertMgr", "CheckServicesCertificates", "sweep")
	}

	problems := m.replaceProblems(res.problems)
	services := res.sortedServices()
	if m.metrics != nil {
		m.metrics.RecordCertificateCounts(res.counts)
	}
	m.recordRootCADays()

	m.logger.Info("Certificate check finished",
		"problems", len(problems), "services", services, "duration", time.Since(start))

	if len(services) > 0 && m.notifier != nil {
		if err := m.notifier.Notify(ctx, services); err != nil {
			m.logger.Error("Failed to publish reconfiguration notice", "services", services, "error", err)
		}
	}
	return services, nil
}

func (m *Manager) sweepCerts(ctx context.Context, res *sweepResult) error {
	for _, entry := range m.certs.List() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name == tlsobject.RootCACert {
			continue
		}
		m.sweepCert(ctx, entry, res)
	}
	return nil
}

// sweepCert re-reads the pair under pairMu so a concurrent
// PrepareCertificates is never observed half-written.
func (m *Manager) sweepCert(ctx context.Context, entry tlsobject.Entry, res *sweepResult) {
	m.pairMu.Lock()
	defer m.pairMu.Unlock()

	certTarget := tlsobject.DetermineTarget(tlsobject.KindCert, entry.Name, entry.Target)
	cert, _ := m.certs.Get(entry.Name, certTarget)
	if cert == nil || cert.Payload() == "" {
		return
	}

	keyName := tlsobject.KeyNameForCert(entry.Name)
	keyTarget := tlsobject.DetermineTarget(tlsobject.KindKey, keyName, entry.Target)
	svc := serviceFor(entry.Name, entry.Scope, entry.Target)

	// Certificates without a known key (CA bundles) can only be checked
	// for their validity window and are never rotated.
	if tlsobject.KeyScope(keyName) == tlsobject.ScopeUnknown {
		info := m.validateCertOnly(entry.Name, entry.Target, cert.Payload(), cert.UserMade())
		res.counts[info.Status()]++
		if !info.healthy() {
			res.problems = append(res.problems, info)
		}
		return
	}

	// A pair counts as user-made when either half is, as in PrepareCertificates.
	var keyData string
	userMade := cert.UserMade()
	key, _ := m.keys.Get(keyName, keyTarget)
	if key != nil {
		keyData = key.Payload()
		userMade = userMade || key.UserMade()
	}

	info := m.validate(entry.Name, entry.Target, cert.Payload(), keyData, userMade)
	res.counts[info.Status()]++

	switch {
	case info.healthy():
		return
	case info.UserMade || !m.cfg.AutoRotation:
		res.problems = append(res.problems, info)
	case info.IsValid:
		if err := m.renew(ctx, entry.Name, certTarget, keyName, keyTarget, cert.Payload()); err != nil {
			m.logger.Error("Certificate renewal failed", "cert", entry.Name, "target", entry.Target, "error", err)
			res.problems = append(res.problems, info)
			return
		}
		m.logger.Info("Renewed certificate", "cert", entry.Name, "target", entry.Target,
			"days_left", info.DaysToExpiration, "service", svc)
		res.touch(svc)
	default:
		if err := m.discard(ctx, entry.Name, certTarget, keyName, keyTarget, key); err != nil {
			m.logger.Error("Failed to remove invalid certificate", "cert", entry.Name, "target", entry.Target, "error", err)
			res.problems = append(res.problems, info)
			return
		}
		m.logger.Warn("Removed invalid self-generated certificate", "cert", entry.Name, "target", entry.Target,
			"error", info.ErrorInfo, "service", svc)
		res.touch(svc)
	}
}

func (m *Manager) renew(ctx context.Context, certName string, certTarget tlsobject.Target,
	keyName string, keyTarget tlsobject.Target, oldCertPEM string,
) error {
	certPEM, keyPEM, err := m.ssl.RenewCert(oldCertPEM, m.cfg.CertValidityDays)
	if err == nil {
		err = m.certs.Save(ctx, certName, certPEM, certTarget, false)
	}
	if err == nil {
		err = m.keys.Save(ctx, keyName, keyPEM, keyTarget, false)
	}
	m.recordRenewal(certName, err)
	return err
}

// discard removes an invalid self-generated pair.
func (m *Manager) discard(ctx context.Context, certName string, certTarget tlsobject.Target,
	keyName string, keyTarget tlsobject.Target, key tlsobject.TLSObject,
) error {
	if err := m.certs.Remove(ctx, certName, certTarget); err != nil {
		return err
	}
	if key != nil {
		return m.keys.Remove(ctx, keyName, keyTarget)
	}
	return nil
}

// sweepOrphanKeys reports keys whose certificate is missing. Keys with no
// known certificate (encryption keys) are skipped.
func (m *Manager) sweepOrphanKeys(ctx context.Context, res *sweepResult) error {
	for _, entry := range m.keys.List() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name == tlsobject.RootCAKey {
			continue
		}
		certName := tlsobject.CertNameForKey(entry.Name)
		if tlsobject.CertScope(certName) == tlsobject.ScopeUnknown {
			continue
		}
		m.sweepOrphanKey(ctx, entry, certName, res)
	}
	return nil
}

func (m *Manager) sweepOrphanKey(ctx context.Context, entry tlsobject.Entry, certName string, res *sweepResult) {
	m.pairMu.Lock()
	defer m.pairMu.Unlock()

	keyTarget := tlsobject.DetermineTarget(tlsobject.KindKey, entry.Name, entry.Target)
	key, _ := m.keys.Get(entry.Name, keyTarget)
	if key == nil {
		return
	}
	certTarget := tlsobject.DetermineTarget(tlsobject.KindCert, certName, entry.Target)
	if cert, _ := m.certs.Get(certName, certTarget); cert != nil {
		return
	}

	info := CertInfo{
		CertName:  certName,
		Target:    entry.Target,
		UserMade:  key.UserMade(),
		ErrorInfo: "missing cert",
		Reason:    sslcerts.ReasonMissingCert,
	}
	res.counts[metric.StatusInvalid]++

	if info.UserMade || !m.cfg.AutoRotation {
		res.problems = append(res.problems, info)
		return
	}
	if err := m.keys.Remove(ctx, entry.Name, keyTarget); err != nil {
		m.logger.Error("Failed to remove orphan key", "key", entry.Name, "target", entry.Target, "error", err)
		res.problems = append(res.problems, info)
		return
	}
	svc := serviceFor(certName, tlsobject.CertScope(certName), entry.Target)
	m.logger.Warn("Removed self-generated key without certificate", "key", entry.Name, "target", entry.Target, "service", svc)
	res.touch(svc)
}
