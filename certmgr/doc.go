// Package certmgr manages the certificate lifecycle of a cluster: it owns the
// internal root CA, hands out cert/key pairs to daemons and periodically
// checks every stored certificate.
//
// # Ownership
//
// Every stored certificate and key carries a user_made flag. Material the
// manager issued itself (user_made=false) is renewed when it gets close to
// expiry and removed when it becomes invalid, so the next deployment of the
// owning service receives a fresh pair. Operator-provided material
// (user_made=true) is never modified; problems with it are surfaced through
// the CEPHADM_CERT_ERROR health check.
//
// # Root CA
//
// Init loads the root CA pair from storage or generates one when neither half
// exists. A store holding only one half, or a pair that does not match, is a
// fatal error: the root is never silently regenerated because every issued
// certificate chains to it.
//
// # Usage
//
//	mgr, err := certmgr.New(backend,
//		certmgr.WithConfig(cfg.CertMgr),
//		certmgr.WithHealth(monitor),
//		certmgr.WithMetrics(registry.Core()),
//	)
//	if err != nil {
//		return err
//	}
//	if err := mgr.Init(ctx, ""); err != nil {
//		return err // fatal
//	}
//
//	cert, key, err := mgr.PrepareCertificates(ctx, certmgr.PrepareRequest{
//		CertName:   "grafana_cert",
//		KeyName:    "grafana_key",
//		HostFQDNs:  []string{"host1.example.com"},
//		TargetHost: "host1",
//	})
//
//	go certmgr.NewSweeper(mgr, time.Hour, logger).Run(ctx)
package certmgr
