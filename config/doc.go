// Package config loads and validates the certificate manager configuration.
//
// A configuration is built from Default, then each file layer in order
// (JSON or YAML, chosen by extension), then environment overrides. The merged
// document is checked against an embedded JSON schema before it is decoded,
// so unknown keys and mistyped values are rejected with every violation
// listed. Config.Validate adds the cross-field rules (for example the renewal
// threshold must be shorter than the leaf validity).
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/certmgr/config.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Environment overrides:
//
//	CERTMGR_NATS_URL       comma-separated NATS server URLs
//	CERTMGR_NATS_USERNAME  NATS user
//	CERTMGR_NATS_PASSWORD  NATS password
//	CERTMGR_NATS_TOKEN     NATS token
//	CERTMGR_MGR_ADDR       address embedded in a generated root CA
//	CERTMGR_STORE_BACKEND  "kv" or "memory"
//
// Durations are strings such as "90s", "1h" or "14d".
package config
