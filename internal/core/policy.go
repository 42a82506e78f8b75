package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPolicy is matched by every PolicyError.
var ErrInvalidPolicy = errors.New("invalid policy")

// PolicyError lists every threshold that failed validation.
type PolicyError struct {
	Problems []string
}

func (e *PolicyError) Error() string {
	return "invalid policy: " + strings.Join(e.Problems, "; ")
}

// Is lets errors.Is(err, ErrInvalidPolicy) match.
func (e *PolicyError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// LoadPolicyFile reads a policy from a YAML (.yaml, .yml) or JSON-with-comments
// (.json, .jsonc) file. Thresholds absent from the file keep their defaults.
func LoadPolicyFile(path string) (PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("reading policy file: %w", err)
	}
	p, err := ParsePolicy(data, filepath.Ext(path))
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes a policy document over DefaultPolicy and validates it.
// ext selects the format and must be one of .yaml, .yml, .json, .jsonc.
func ParsePolicy(data []byte, ext string) (PolicyConfig, error) {
	p := DefaultPolicy()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return PolicyConfig{}, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return PolicyConfig{}, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return PolicyConfig{}, fmt.Errorf("unsupported policy format %q", ext)
	}
	if err := p.Validate(); err != nil {
		return PolicyConfig{}, err
	}
	return p, nil
}
