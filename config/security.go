package config

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Input limits for anything read from disk or the environment.
const (
	maxConfigSize = 1 << 20
	maxPEMSize    = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

// validateConfigPath accepts absolute paths and relative paths that stay
// inside the working directory, with a .json, .yaml or .yml extension.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return errors.New("config path is empty")
	case len(path) > maxPathLen:
		return fmt.Errorf("config path is %d bytes, limit %d", len(path), maxPathLen)
	case formatOf(path) == "":
		return fmt.Errorf("%s: config must be JSON or YAML", path)
	case filepath.IsAbs(path):
		return nil
	}

	if !filepath.IsLocal(filepath.Clean(path)) {
		return fmt.Errorf("%s: relative config path leaves the working directory", path)
	}
	return nil
}

// readRegularFile refuses directories, devices and anything over limit.
func readRegularFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, limit %d", path, info.Size(), limit)
	}
	return io.ReadAll(io.LimitReader(f, limit))
}

func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	return readRegularFile(path, maxConfigSize)
}

// checkPEMFile requires at least one PEM block whose type ends in suffix,
// e.g. "CERTIFICATE" or "PRIVATE KEY".
func checkPEMFile(path, suffix string) error {
	data, err := readRegularFile(path, maxPEMSize)
	if err != nil {
		return err
	}
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if strings.HasSuffix(block.Type, suffix) {
			return nil
		}
	}
	return fmt.Errorf("%s holds no PEM %s", path, strings.ToLower(suffix))
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s is %d bytes, limit %d", key, len(value), maxEnvVarLen)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}

// validateJSONDepth rejects documents nested deeper than maxJSONDepth or
// with unbalanced brackets, before they reach json.Unmarshal.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nests deeper than %d", maxJSONDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	if depth != 0 {
		return errors.New("malformed JSON: unbalanced brackets")
	}
	return nil
}
