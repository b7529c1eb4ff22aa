// Package errors classifies certmgr errors so callers can decide what to do
// with them.
//
// Transient errors (lost connections, storage timeouts, a sweep already in
// flight) are retried or reported as temporary. Invalid errors (unknown
// certificate names, a missing host or service, malformed PEM) go back to the
// caller. Fatal errors stop the process. The important fatal case is a stored
// root CA that is incomplete or inconsistent:
//
//	if err := mgr.Init(ctx, addr); errors.IsFatal(err) {
//	    return err
//	}
//
// WrapFatal, WrapInvalid and WrapTransient attach a class together with
// component context:
//
//	return errors.WrapFatal(err, "CertMgr", "Init", "load root credentials")
//
// The message reads "CertMgr.Init: load root credentials failed: <cause>" and
// the cause stays reachable through Is and As.
package errors
