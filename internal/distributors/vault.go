package distributors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// VaultLogicalAPI is the subset of *api.Logical used by the distributor
type VaultLogicalAPI interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
}

// VaultDistributor overwrites two fields of a Vault KV secret, keeping its
// other fields. Options: address, namespace, mount (default "secret") and
// kv_version (1 or 2, default 2).
type VaultDistributor struct {
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	logical VaultLogicalAPI
}

// VaultOption configures a VaultDistributor
type VaultOption func(*VaultDistributor)

// WithVaultLogical sets a custom logical client (for testing)
func WithVaultLogical(logical VaultLogicalAPI) VaultOption {
	return func(d *VaultDistributor) {
		d.logical = logical
	}
}

// NewVaultDistributor creates a vault distributor
func NewVaultDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...VaultOption) (*VaultDistributor, error) {
	d := &VaultDistributor{name: name, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *VaultDistributor) Name() string {
	return d.name
}

// ValidateConfiguration checks kv_version on top of the common checks
func (d *VaultDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	if v := cfg.IntOption("kv_version", 2); v != 1 && v != 2 {
		return &distributor.ValidationError{Distributor: cfg.Name, Message: fmt.Sprintf("kv_version must be 1 or 2, got %d", v)}
	}
	return nil
}

func (d *VaultDistributor) getLogical(cfg distributor.ServiceConfiguration) (VaultLogicalAPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logical != nil {
		return d.logical, nil
	}

	config := api.DefaultConfig()
	if addr := cfg.Option("address", ""); addr != "" {
		config.Address = addr
	}
	client, err := api.NewClient(config)
	if err != nil {
		return nil, dserrors.ProviderError("vault", "create client", err)
	}
	client.SetToken(cfg.Auth.Reveal())
	if ns := cfg.Option("namespace", ""); ns != "" {
		client.SetNamespace(ns)
	}
	d.logical = client.Logical()
	return d.logical, nil
}

// vaultPaths returns the API path of a secret for a KV version
func vaultPaths(mount, secretPath string, kvVersion int) string {
	mount = strings.Trim(mount, "/")
	secretPath = strings.Trim(secretPath, "/")
	if kvVersion == 1 {
		return mount + "/" + secretPath
	}
	return mount + "/data/" + secretPath
}

// PushNewCredentials reads each project's secret, replaces both fields and
// writes the whole secret back. KV v2 writes use check-and-set against the
// version that was read.
func (d *VaultDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	logical, err := d.getLogical(cfg)
	if err != nil {
		return err
	}
	kvVersion := cfg.IntOption("kv_version", 2)
	mount := cfg.Option("mount", "secret")

	for _, project := range cfg.Projects {
		path := vaultPaths(mount, project.Target, kvVersion)

		current, err := logical.ReadWithContext(ctx, path)
		if err != nil {
			return dserrors.ProviderError("vault", "read "+path, err)
		}
		if current == nil || current.Data == nil {
			return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: "secret"}
		}

		data := current.Data
		var casVersion interface{}
		if kvVersion == 2 {
			inner, ok := current.Data["data"].(map[string]interface{})
			if !ok {
				return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: "secret"}
			}
			data = inner
			if md, ok := current.Data["metadata"].(map[string]interface{}); ok {
				casVersion = kvMetadataVersion(md["version"])
			}
		}

		for _, field := range []string{project.KeyIDName, project.SecretName} {
			if _, ok := data[field]; !ok {
				return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: field}
			}
		}

		updated := make(map[string]interface{}, len(data))
		for k, v := range data {
			updated[k] = v
		}
		updated[project.KeyIDName] = keyID
		updated[project.SecretName] = secret.Reveal()

		body := updated
		if kvVersion == 2 {
			body = map[string]interface{}{"data": updated}
			if casVersion != nil {
				body["options"] = map[string]interface{}{"cas": casVersion}
			}
		}

		if _, err := logical.WriteWithContext(ctx, path, body); err != nil {
			return dserrors.ProviderError("vault", "write "+path, err)
		}
		d.logger.Debug("Updated %s and %s at %s", project.KeyIDName, project.SecretName, path)
	}
	return nil
}

// kvMetadataVersion normalizes the version number decoded from KV v2 metadata
func kvMetadataVersion(v interface{}) interface{} {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case float64:
		return int64(n)
	case int64:
		return n
	}
	return nil
}

var _ distributor.Distributor = (*VaultDistributor)(nil)
