package tlsobject

import (
	"encoding/json"
	"fmt"
)

// Kind distinguishes certificates from private keys.
type Kind int

const (
	KindCert Kind = iota
	KindKey
)

// String returns the lower-case kind name used in storage keys.
func (k Kind) String() string {
	if k == KindKey {
		return "key"
	}
	return "cert"
}

// TLSObject is PEM material plus its provenance. A value is never mutated;
// renewal replaces it with a new one.
type TLSObject interface {
	Payload() string
	UserMade() bool
	Kind() Kind
}

// Cert is a PEM encoded certificate.
type Cert struct {
	PEM        string
	IsUserMade bool
}

func (c Cert) Payload() string { return c.PEM }
func (c Cert) UserMade() bool  { return c.IsUserMade }
func (c Cert) Kind() Kind      { return KindCert }

// PrivKey is a PEM encoded private key.
type PrivKey struct {
	PEM        string
	IsUserMade bool
}

func (k PrivKey) Payload() string { return k.PEM }
func (k PrivKey) UserMade() bool  { return k.IsUserMade }
func (k PrivKey) Kind() Kind      { return KindKey }

// New builds the variant matching kind.
func New(kind Kind, payload string, userMade bool) TLSObject {
	if kind == KindKey {
		return PrivKey{PEM: payload, IsUserMade: userMade}
	}
	return Cert{PEM: payload, IsUserMade: userMade}
}

// record is the persisted form of one object.
type record struct {
	Cert     string `json:"cert,omitempty"`
	Key      string `json:"key,omitempty"`
	UserMade bool   `json:"user_made"`
}

func toRecord(obj TLSObject) record {
	if obj.Kind() == KindKey {
		return record{Key: obj.Payload(), UserMade: obj.UserMade()}
	}
	return record{Cert: obj.Payload(), UserMade: obj.UserMade()}
}

// fromRecord returns nil for records without payload.
func fromRecord(kind Kind, r record) (TLSObject, error) {
	payload := r.Cert
	if kind == KindKey {
		payload = r.Key
	}
	if payload == "" {
		if r.Cert != "" || r.Key != "" {
			return nil, fmt.Errorf("%s record holds the wrong payload field", kind)
		}
		return nil, nil
	}
	return New(kind, payload, r.UserMade), nil
}

// entity is the per-name stored value. Its shape is fixed by the name's scope:
// single for GLOBAL names, byQualifier for HOST and SERVICE names.
type entity interface {
	empty() bool
	encode() ([]byte, error)
}

type single struct {
	obj TLSObject
}

func (s single) empty() bool { return s.obj == nil }

func (s single) encode() ([]byte, error) {
	return json.Marshal(toRecord(s.obj))
}

type byQualifier map[string]TLSObject

func (b byQualifier) empty() bool { return len(b) == 0 }

func (b byQualifier) encode() ([]byte, error) {
	out := make(map[string]record, len(b))
	for q, obj := range b {
		out[q] = toRecord(obj)
	}
	return json.Marshal(out)
}

// with returns a copy of b holding obj at qualifier.
func (b byQualifier) with(qualifier string, obj TLSObject) byQualifier {
	out := make(byQualifier, len(b)+1)
	for q, o := range b {
		out[q] = o
	}
	out[qualifier] = obj
	return out
}

// without returns a copy of b lacking qualifier.
func (b byQualifier) without(qualifier string) byQualifier {
	out := make(byQualifier, len(b))
	for q, o := range b {
		if q != qualifier {
			out[q] = o
		}
	}
	return out
}

func decodeEntity(kind Kind, scope Scope, data []byte) (entity, error) {
	if scope == ScopeGlobal {
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		obj, err := fromRecord(kind, r)
		if err != nil {
			return nil, err
		}
		return single{obj: obj}, nil
	}

	var raw map[string]record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(byQualifier, len(raw))
	for q, r := range raw {
		obj, err := fromRecord(kind, r)
		if err != nil {
			return nil, fmt.Errorf("qualifier %q: %w", q, err)
		}
		if obj != nil {
			out[q] = obj
		}
	}
	return out, nil
}
