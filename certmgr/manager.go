package certmgr

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/certmgr/config"
	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/storage"
	"github.com/c360/certmgr/tlsobject"
)

// CheckName is the health check raised while certificates need attention.
const CheckName = "CEPHADM_CERT_ERROR"

// State is the root CA lifecycle state of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateGenerated
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateGenerated:
		return "generated"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// problemKey identifies one certificate (or orphan key) instance.
type problemKey struct {
	name   string
	target string
}

// Manager owns the root CA and the certificate and key stores, issues and
// renews cephadm-signed certificates and reports material that needs an
// operator.
type Manager struct {
	certs *tlsobject.Store
	keys  *tlsobject.Store
	ssl   *sslcerts.SSLCerts

	cfg      config.CertMgrConfig
	logger   *slog.Logger
	health   health.Reporter
	metrics  *metric.Metrics
	notifier *Notifier

	mu       sync.Mutex
	state    State
	problems map[problemKey]CertInfo

	// pairMu serializes writers of a cert/key pair.
	pairMu sync.Mutex

	sweeping atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHealth sets where certificate health checks are reported.
// A nil reporter, including a nil *health.Monitor, disables reporting.
func WithHealth(reporter health.Reporter) Option {
	return func(m *Manager) {
		if mon, ok := reporter.(*health.Monitor); ok && mon == nil {
			reporter = nil
		}
		m.health = reporter
	}
}

// WithMetrics enables certificate metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithConfig replaces the default certificate policy.
func WithConfig(cfg config.CertMgrConfig) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithSSLCerts injects a preconfigured X.509 engine. The engine's root is
// replaced during Init.
func WithSSLCerts(ssl *sslcerts.SSLCerts) Option {
	return func(m *Manager) {
		m.ssl = ssl
	}
}

// WithNotifier publishes reconfiguration notices after sweeps that touched
// certificates.
func WithNotifier(n *Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// New creates a Manager persisting to backend. Init must be called before
// any other operation.
func New(backend storage.Store, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "CertMgr", "New", "storage backend is required")
	}

	m := &Manager{
		cfg:      config.Default().CertMgr,
		logger:   slog.Default(),
		problems: make(map[problemKey]CertInfo),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.ssl == nil {
		rootType, err := sslcerts.ParseKeyType(m.cfg.RootKeyType)
		if err != nil {
			return nil, errors.WrapInvalid(err, "CertMgr", "New", "parse root key type")
		}
		leafType, err := sslcerts.ParseKeyType(m.cfg.LeafKeyType)
		if err != nil {
			return nil, errors.WrapInvalid(err, "CertMgr", "New", "parse leaf key type")
		}
		m.ssl = sslcerts.New(
			sslcerts.WithRootValidityDays(m.cfg.RootCAValidityDays),
			sslcerts.WithLeafValidityDays(m.cfg.CertValidityDays),
			sslcerts.WithKeyTypes(rootType, leafType),
		)
	}

	m.logger = m.logger.With("component", "certmgr")
	m.certs = tlsobject.NewStore(tlsobject.KindCert, backend, m.logger)
	m.keys = tlsobject.NewStore(tlsobject.KindKey, backend, m.logger)
	return m, nil
}

// Init loads both stores and establishes the root CA: an existing pair is
// loaded, a missing pair is generated for addr (the configured manager
// address when empty) and persisted. A half-present or unusable root fails
// with a fatal error and is never regenerated.
func (m *Manager) Init(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateLoaded || m.state == StateGenerated {
		return errors.Wrap(errors.ErrAlreadyStarted, "CertMgr", "Init", "initialize root CA")
	}
	if addr == "" {
		addr = m.cfg.MgrAddr
	}

	if err := m.loadStore(ctx, m.certs, tlsobject.RootCACert); err != nil {
		m.state = StateFailed
		return errors.WrapFatal(err, "CertMgr", "Init", "load certificate store")
	}
	if err := m.loadStore(ctx, m.keys, tlsobject.RootCAKey); err != nil {
		m.state = StateFailed
		return errors.WrapFatal(err, "CertMgr", "Init", "load key store")
	}

	rootCert, _ := m.certs.Get(tlsobject.RootCACert, tlsobject.Target{})
	rootKey, _ := m.keys.Get(tlsobject.RootCAKey, tlsobject.Target{})

	switch {
	case rootCert != nil && rootKey != nil:
		if err := m.ssl.LoadRootCredentials(rootCert.Payload(), rootKey.Payload()); err != nil {
			m.state = StateFailed
			m.logger.Error("Stored root CA is unusable", "error", err)
			return errors.WrapFatal(err, "CertMgr", "Init", "load root CA")
		}
		m.state = StateLoaded
		m.logger.Info("Loaded root CA from store")

	case rootCert != nil || rootKey != nil:
		m.state = StateFailed
		m.logger.Error("Root CA is incomplete",
			"cert_present", rootCert != nil, "key_present", rootKey != nil)
		return errors.WrapFatal(errors.ErrRootCAIncomplete, "CertMgr", "Init", "load root CA")

	default:
		if err := m.ssl.GenerateRootCert(addr); err != nil {
			m.state = StateFailed
			return errors.WrapFatal(err, "CertMgr", "Init", "generate root CA")
		}
		if err := m.certs.Save(ctx, tlsobject.RootCACert, m.ssl.RootCertPEM(), tlsobject.Target{}, false); err != nil {
			m.state = StateFailed
			return errors.WrapFatal(err, "CertMgr", "Init", "persist root CA certificate")
		}
		if err := m.keys.Save(ctx, tlsobject.RootCAKey, m.ssl.RootKeyPEM(), tlsobject.Target{}, false); err != nil {
			m.state = StateFailed
			return errors.WrapFatal(err, "CertMgr", "Init", "persist root CA key")
		}
		m.state = StateGenerated
		m.logger.Info("Generated new root CA", "addr", addr, "not_after", m.ssl.RootNotAfter())
	}

	m.recordRootCADays()
	return nil
}

// loadStore loads store, tolerating unreadable entries other than root. An
// unreadable root would look absent and get regenerated over the real one.
func (m *Manager) loadStore(ctx context.Context, store *tlsobject.Store, root string) error {
	err := store.Load(ctx)
	if err == nil {
		return nil
	}
	var unreadable *tlsobject.UnreadableError
	if !errors.As(err, &unreadable) || unreadable.Has(root) {
		return err
	}
	m.logger.Warn("Stored entries unreadable, treating them as absent",
		"kind", store.Kind().String(), "names", unreadable.Names, "error", err)
	return nil
}

// State returns the root CA lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ready(op string) error {
	switch m.State() {
	case StateLoaded, StateGenerated:
		return nil
	default:
		return errors.Wrap(errors.ErrNotInitialized, "CertMgr", op, "check state")
	}
}

// Watch reloads both stores on external changes until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.certs.Watch(ctx) })
	g.Go(func() error { return m.keys.Watch(ctx) })
	return g.Wait()
}

// RootCA returns the public root CA certificate.
func (m *Manager) RootCA() (string, error) {
	if err := m.ready("RootCA"); err != nil {
		return "", err
	}
	return m.ssl.RootCertPEM(), nil
}

// SSL returns the X.509 engine holding the active root.
func (m *Manager) SSL() *sslcerts.SSLCerts {
	return m.ssl
}

// GetCert returns the stored certificate, or "" when absent.
func (m *Manager) GetCert(name string, target tlsobject.Target) (string, error) {
	return m.get(m.certs, "GetCert", name, target)
}

// GetKey returns the stored private key, or "" when absent.
func (m *Manager) GetKey(name string, target tlsobject.Target) (string, error) {
	return m.get(m.keys, "GetKey", name, target)
}

func (m *Manager) get(store *tlsobject.Store, op, name string, target tlsobject.Target) (string, error) {
	if err := m.ready(op); err != nil {
		return "", err
	}
	obj, err := store.Get(name, target)
	if err != nil {
		return "", errors.WrapInvalid(err, "CertMgr", op, "resolve "+name)
	}
	if obj == nil {
		return "", nil
	}
	return obj.Payload(), nil
}

// SaveCert stores a certificate.
func (m *Manager) SaveCert(ctx context.Context, name, payload string, target tlsobject.Target, userMade bool) error {
	return m.save(ctx, m.certs, "SaveCert", name, payload, target, userMade)
}

// SaveKey stores a private key.
func (m *Manager) SaveKey(ctx context.Context, name, payload string, target tlsobject.Target, userMade bool) error {
	return m.save(ctx, m.keys, "SaveKey", name, payload, target, userMade)
}

func (m *Manager) save(ctx context.Context, store *tlsobject.Store, op, name, payload string, target tlsobject.Target, userMade bool) error {
	if err := m.ready(op); err != nil {
		return err
	}
	if name == tlsobject.RootCACert || name == tlsobject.RootCAKey {
		return errors.WrapInvalid(errors.ErrInvalidData, "CertMgr", op, "root CA cannot be replaced")
	}
	if err := store.Save(ctx, name, payload, target, userMade); err != nil {
		if errors.Is(err, errors.ErrUnknownEntity) || errors.Is(err, errors.ErrMissingQualifier) {
			return errors.WrapInvalid(err, "CertMgr", op, "resolve "+name)
		}
		return err
	}
	return nil
}

// RmCert removes a certificate. Removing an absent certificate is a no-op.
func (m *Manager) RmCert(ctx context.Context, name string, target tlsobject.Target) error {
	return m.remove(ctx, m.certs, "RmCert", name, target)
}

// RmKey removes a private key. Removing an absent key is a no-op.
func (m *Manager) RmKey(ctx context.Context, name string, target tlsobject.Target) error {
	return m.remove(ctx, m.keys, "RmKey", name, target)
}

func (m *Manager) remove(ctx context.Context, store *tlsobject.Store, op, name string, target tlsobject.Target) error {
	if err := m.ready(op); err != nil {
		return err
	}
	if name == tlsobject.RootCACert || name == tlsobject.RootCAKey {
		return errors.WrapInvalid(errors.ErrInvalidData, "CertMgr", op, "root CA cannot be removed")
	}
	if err := store.Remove(ctx, name, target); err != nil {
		if errors.Is(err, errors.ErrUnknownEntity) || errors.Is(err, errors.ErrMissingQualifier) {
			return errors.WrapInvalid(err, "CertMgr", op, "resolve "+name)
		}
		return err
	}
	return nil
}

// SetCertKeyPair validates and stores an operator-provided certificate and
// its key as user-made. Pairs that fail validation are rejected.
func (m *Manager) SetCertKeyPair(ctx context.Context, certName, certPEM, keyPEM string, target tlsobject.Target) error {
	if err := m.ready("SetCertKeyPair"); err != nil {
		return err
	}
	if certName == tlsobject.RootCACert {
		return errors.WrapInvalid(errors.ErrInvalidData, "CertMgr", "SetCertKeyPair", "root CA cannot be replaced")
	}
	keyName := tlsobject.KeyNameForCert(certName)
	if tlsobject.KeyScope(keyName) == tlsobject.ScopeUnknown {
		return errors.WrapInvalid(errors.ErrUnknownEntity, "CertMgr", "SetCertKeyPair", "no key pairs with "+certName)
	}
	if _, err := m.ssl.VerifyTLS(certPEM, keyPEM); err != nil {
		return errors.WrapInvalid(err, "CertMgr", "SetCertKeyPair", "validate pair")
	}

	m.pairMu.Lock()
	defer m.pairMu.Unlock()

	if err := m.SaveCert(ctx, certName, certPEM, target, true); err != nil {
		return err
	}
	if err := m.SaveKey(ctx, keyName, keyPEM, target, true); err != nil {
		return err
	}

	qual := qualifier(tlsobject.KindCert, certName, target)
	m.logger.Info("Stored user-provided certificate", "cert", certName, "target", qual)
	m.resolveProblem(certName, qual)
	return nil
}

// ScopeForService returns the scope of the certificates owned by the
// service ("rgw.zone1" resolves through its type "rgw").
func (m *Manager) ScopeForService(serviceName string) tlsobject.Scope {
	return tlsobject.ScopeForService(tlsobject.ServiceType(serviceName))
}

// Problems returns the certificates currently awaiting an operator, sorted
// by name then target.
func (m *Manager) Problems() []CertInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedInfos(m.problems)
}

func (m *Manager) recordProblem(info CertInfo) {
	m.mu.Lock()
	m.problems[problemKey{info.CertName, info.Target}] = info
	snapshot := sortedInfos(m.problems)
	m.mu.Unlock()
	m.publishHealth(snapshot)
}

func (m *Manager) resolveProblem(name, target string) {
	m.mu.Lock()
	key := problemKey{name, target}
	if _, ok := m.problems[key]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.problems, key)
	snapshot := sortedInfos(m.problems)
	m.mu.Unlock()
	m.publishHealth(snapshot)
}

func (m *Manager) replaceProblems(infos []CertInfo) []CertInfo {
	next := make(map[problemKey]CertInfo, len(infos))
	for _, info := range infos {
		next[problemKey{info.CertName, info.Target}] = info
	}
	m.mu.Lock()
	m.problems = next
	snapshot := sortedInfos(next)
	m.mu.Unlock()
	m.publishHealth(snapshot)
	return snapshot
}

func (m *Manager) recordRootCADays() {
	if m.metrics == nil {
		return
	}
	notAfter := m.ssl.RootNotAfter()
	if notAfter.IsZero() {
		return
	}
	m.metrics.RecordRootCADays(int(time.Until(notAfter) / (24 * time.Hour)))
}
