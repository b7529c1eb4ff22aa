package certmgr

import (
	"sort"

	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/tlsobject"
)

// CertListing describes a stored certificate without its PEM.
type CertListing struct {
	Name     string            `json:"name"`
	Target   string            `json:"target,omitempty"`
	Scope    string            `json:"scope"`
	UserMade bool              `json:"user_made"`
	Details  *sslcerts.Details `json:"details,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// KeyListing reports whether a known key is stored. Key material is never
// listed.
type KeyListing struct {
	Name     string `json:"name"`
	Target   string `json:"target,omitempty"`
	Scope    string `json:"scope"`
	UserMade bool   `json:"user_made"`
	Present  bool   `json:"present"`
}

// CertLs lists stored certificates. Certificates signed by the cephadm root,
// including the root itself, are only listed when includeCephadmSigned is set.
func (m *Manager) CertLs(includeCephadmSigned bool) ([]CertListing, error) {
	if err := m.ready("CertLs"); err != nil {
		return nil, err
	}

	out := []CertListing{}
	for _, entry := range m.certs.List() {
		payload := entry.Object.Payload()
		if !includeCephadmSigned && (entry.Name == tlsobject.RootCACert || m.ssl.IssuedByRoot(payload)) {
			continue
		}

		item := CertListing{
			Name:     entry.Name,
			Target:   entry.Target,
			Scope:    entry.Scope.String(),
			UserMade: entry.Object.UserMade(),
		}
		details, err := m.ssl.Inspect(payload)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Details = &details
		}
		out = append(out, item)
	}
	return out, nil
}

// KeyLs lists every known key name with the stored instances. HOST and
// SERVICE keys without instances are reported once as absent. The root CA
// key is never listed.
func (m *Manager) KeyLs() ([]KeyListing, error) {
	if err := m.ready("KeyLs"); err != nil {
		return nil, err
	}

	stored := make(map[string][]tlsobject.Entry)
	for _, entry := range m.keys.List() {
		stored[entry.Name] = append(stored[entry.Name], entry)
	}

	out := []KeyListing{}
	for scope, names := range tlsobject.KnownNames(tlsobject.KindKey) {
		for _, name := range names {
			if name == tlsobject.RootCAKey {
				continue
			}
			entries := stored[name]
			if len(entries) == 0 {
				out = append(out, KeyListing{Name: name, Scope: scope.String()})
				continue
			}
			for _, e := range entries {
				out = append(out, KeyListing{
					Name:     name,
					Target:   e.Target,
					Scope:    scope.String(),
					UserMade: e.Object.UserMade(),
					Present:  true,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}
