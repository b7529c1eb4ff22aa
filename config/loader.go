package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CERTMGR_"

// envOverrides maps CERTMGR_* variables onto config fields. They apply after
// every file layer.
var envOverrides = map[string]func(*Config, string){
	"NATS_URL":      func(c *Config, v string) { c.NATS.URLs = splitList(v) },
	"NATS_USERNAME": func(c *Config, v string) { c.NATS.Username = v },
	"NATS_PASSWORD": func(c *Config, v string) { c.NATS.Password = v },
	"NATS_TOKEN":    func(c *Config, v string) { c.NATS.Token = v },
	"MGR_ADDR":      func(c *Config, v string) { c.CertMgr.MgrAddr = v },
	"STORE_BACKEND": func(c *Config, v string) { c.Store.Backend = v },
}

// Loader merges Default, file layers and the environment into a Config.
type Loader struct {
	layers   []string
	validate bool
	getenv   func(string) string
}

func NewLoader() *Loader {
	return &Loader{getenv: os.Getenv}
}

// AddLayer appends a JSON or YAML file. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation runs Config.Validate at the end of Load. The schema check
// runs regardless.
func (l *Loader) EnableValidation(enable bool) {
	l.validate = enable
}

// LoadFile replaces the layers with path and loads.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

func (l *Loader) Load() (*Config, error) {
	doc, err := asDocument(Default())
	if err != nil {
		return nil, err
	}
	for _, path := range l.layers {
		layer, err := readDocument(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		doc = mergeDocs(doc, layer)
	}

	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := fromDocument(doc, cfg); err != nil {
		return nil, err
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if l.validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	for name, set := range envOverrides {
		key := envPrefix + name
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if val != "" {
			set(cfg, val)
		}
	}
	return nil
}

// formatOf picks the decoder from the extension; "" means unsupported.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// readDocument decodes one layer into the same generic shape JSON produces,
// so YAML integers and JSON numbers merge alike.
func readDocument(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if formatOf(path) == "yaml" {
		err = yaml.Unmarshal(data, &raw)
	} else if err = validateJSONDepth(data); err == nil {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", formatOf(path), err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return asDocument(raw)
}

func asDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return doc, nil
}

func fromDocument(doc map[string]any, cfg *Config) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode merged config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode merged config: %w", err)
	}
	return nil
}

// mergeDocs overlays top on base. Nested objects merge key by key; a null in
// top leaves the base value alone; anything else replaces it.
func mergeDocs(base, top map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range top {
		switch v := v.(type) {
		case nil:
		case map[string]any:
			if b, ok := out[k].(map[string]any); ok {
				out[k] = mergeDocs(b, v)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
