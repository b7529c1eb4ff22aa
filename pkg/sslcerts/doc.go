// Package sslcerts is the internal certificate authority: it generates or
// loads the root CA, issues and renews leaf certificates signed by it and
// validates certificate/key pairs.
//
// Keys are generated and PEM encoded through lego's certcrypto package; the
// root defaults to RSA 4096 and leaves to RSA 2048. Serial numbers are random
// UUIDs. Leaf certificates are backdated by one hour to absorb clock skew.
//
// Validation failures are returned as *ValidationError carrying a Reason, so
// callers can tell an expired certificate (an error-level health condition)
// from a merely malformed or mismatched one:
//
//	days, err := certs.VerifyTLS(certPEM, keyPEM)
//	switch {
//	case sslcerts.IsExpired(err):
//	case err != nil:
//	case days < threshold:
//	}
package sslcerts
