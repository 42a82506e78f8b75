package core

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PolicyConfig)
		field  string
	}{
		{"zero red threshold", func(p *PolicyConfig) { p.PcRedThreshold = 0 }, "pcRedThreshold"},
		{"red threshold above one", func(p *PolicyConfig) { p.PcRedThreshold = 1.5 }, "pcRedThreshold"},
		{"NaN red threshold", func(p *PolicyConfig) { p.PcRedThreshold = math.NaN() }, "pcRedThreshold"},
		{"negative eta", func(p *PolicyConfig) { p.EtaThreshold = -1 }, "etaThreshold"},
		{"infinite tangency", func(p *PolicyConfig) { p.TangencyThreshold = math.Inf(1) }, "tangencyThreshold"},
		{"zero conditioning", func(p *PolicyConfig) { p.ConditioningThreshold = 0 }, "conditioningThreshold"},
		{"negative warning time", func(p *PolicyConfig) { p.WarningTimeThreshold = -2 }, "warningTimeThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPolicy))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestPolicyValidate_ZeroWarningTimeAllowed(t *testing.T) {
	p := DefaultPolicy()
	p.WarningTimeThreshold = 0
	assert.NoError(t, p.Validate())
}

func TestPolicyValidate_CollectsAll(t *testing.T) {
	p := PolicyConfig{}
	err := p.Validate()
	require.Error(t, err)

	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Problems, 4)
}

func TestParsePolicy_YAML(t *testing.T) {
	doc := []byte(`
pc_red_threshold: 1.0e-5
warning_time_threshold: 48
`)
	p, err := ParsePolicy(doc, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, 1e-5, p.PcRedThreshold)
	assert.Equal(t, 48.0, p.WarningTimeThreshold)
	// Absent keys keep their defaults.
	assert.Equal(t, DefaultPolicy().EtaThreshold, p.EtaThreshold)
	assert.Equal(t, DefaultPolicy().TangencyThreshold, p.TangencyThreshold)
}

func TestParsePolicy_JSONC(t *testing.T) {
	doc := []byte(`{
  // tighter geometry gate
  "tangencyThreshold": 0.9,
  "etaThreshold": 8, /* trailing comma follows */
}`)
	p, err := ParsePolicy(doc, ".jsonc")
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.TangencyThreshold)
	assert.Equal(t, 8.0, p.EtaThreshold)
	assert.Equal(t, DefaultPolicy().PcRedThreshold, p.PcRedThreshold)
}

func TestParsePolicy_Empty(t *testing.T) {
	p, err := ParsePolicy([]byte(""), ".yml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestParsePolicy_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ext  string
		want string
	}{
		{"unknown yaml key", "pc_red: 0.1\n", ".yaml", "parsing yaml"},
		{"unknown json key", `{"pcRed": 0.1}`, ".json", "parsing json"},
		{"malformed json", `{"etaThreshold": }`, ".json", "parsing json"},
		{"unsupported extension", "x=1", ".toml", "unsupported policy format"},
		{"out of range value", "pc_red_threshold: 2\n", ".yaml", "pcRedThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc), tt.ext)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("eta_threshold: 12\n"), 0o644))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12.0, p.EtaThreshold)

	_, err = LoadPolicyFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading policy file")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"etaThreshold": -3}`), 0o644))
	_, err = LoadPolicyFile(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Contains(t, err.Error(), bad)
}
