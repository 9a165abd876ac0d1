// Package testutil provides shared helpers for keyrot tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/systmms/keyrot/internal/config"
)

// TestConfigBuilder builds keyrot.yaml files for tests.
//
//	path := testutil.NewTestConfig(t).
//	    WithPrincipal("ci-deployer", "travis").
//	    WithDistributor("travis", config.DistributorConfig{...}).
//	    Write()
type TestConfigBuilder struct {
	def *config.Definition
	dir string
	t   *testing.T
}

// NewTestConfig starts from a minimal version 1 configuration with the
// local lock and short timings.
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		def: &config.Definition{
			Version:            1,
			GracePeriod:        config.Duration(1),
			ConsistencyTimeout: config.Duration(1),
			Lock:               config.LockConfig{Type: "local"},
			Distributors:       make(map[string]config.DistributorConfig),
		},
		dir: t.TempDir(),
		t:   t,
	}
}

// WithPrincipal adds a principal fed by the named distributors
func (b *TestConfigBuilder) WithPrincipal(name string, distributors ...string) *TestConfigBuilder {
	b.def.Principals = append(b.def.Principals, config.PrincipalConfig{Name: name, Distributors: distributors})
	return b
}

// WithDistributor adds a named distributor
func (b *TestConfigBuilder) WithDistributor(name string, d config.DistributorConfig) *TestConfigBuilder {
	b.def.Distributors[name] = d
	return b
}

// WithLock sets the lock type
func (b *TestConfigBuilder) WithLock(typ string) *TestConfigBuilder {
	b.def.Lock.Type = typ
	return b
}

// Definition returns the definition built so far
func (b *TestConfigBuilder) Definition() *config.Definition {
	return b.def
}

// Write marshals the configuration to keyrot.yaml and returns its path
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	data, err := yaml.Marshal(b.def)
	if err != nil {
		b.t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(b.dir, "keyrot.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		b.t.Fatalf("write config: %v", err)
	}
	return path
}

// WriteRaw writes content verbatim as keyrot.yaml and returns its path
func WriteRaw(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keyrot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
