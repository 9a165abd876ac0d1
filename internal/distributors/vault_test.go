package distributors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// fakeVault serves a tiny KV API: v2 under /v1/secret/, v1 under /v1/kv/
type fakeVault struct {
	mu      sync.Mutex
	v2      map[string]map[string]interface{}
	version map[string]int
	v1      map[string]map[string]interface{}
	writes  []map[string]interface{}
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		v2:      map[string]map[string]interface{}{},
		version: map[string]int{},
		v1:      map[string]map[string]interface{}{},
	}
}

func (f *fakeVault) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.Header.Get("X-Vault-Token") != "vault-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}

		notFound := func() {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
			path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
			switch r.Method {
			case http.MethodGet:
				data, ok := f.v2[path]
				if !ok {
					notFound()
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"data": map[string]interface{}{
						"data":     data,
						"metadata": map[string]interface{}{"version": f.version[path]},
					},
				})
			case http.MethodPut, http.MethodPost:
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				f.writes = append(f.writes, body)

				if opts, ok := body["options"].(map[string]interface{}); ok {
					if cas, ok := opts["cas"].(float64); ok && int(cas) != f.version[path] {
						w.WriteHeader(http.StatusBadRequest)
						_, _ = w.Write([]byte(`{"errors":["check-and-set parameter did not match the current version"]}`))
						return
					}
				}
				f.v2[path] = body["data"].(map[string]interface{})
				f.version[path]++
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"data": map[string]interface{}{"version": f.version[path]},
				})
			}

		case strings.HasPrefix(r.URL.Path, "/v1/kv/"):
			path := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
			switch r.Method {
			case http.MethodGet:
				data, ok := f.v1[path]
				if !ok {
					notFound()
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
			case http.MethodPut, http.MethodPost:
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				f.writes = append(f.writes, body)
				f.v1[path] = body
				_, _ = w.Write([]byte(`{}`))
			}

		default:
			notFound()
		}
	})
}

func vaultConfig(address string, options map[string]interface{}, projects ...distributor.Project) distributor.ServiceConfiguration {
	opts := map[string]interface{}{"address": address}
	for k, v := range options {
		opts[k] = v
	}
	return distributor.ServiceConfiguration{
		Name:     "vault",
		Type:     "vault",
		Auth:     logging.Secret("vault-token"),
		Projects: projects,
		Options:  opts,
	}
}

func TestVaultDistributor_KVv2(t *testing.T) {
	t.Parallel()

	f := newFakeVault()
	f.v2["ci/aws"] = map[string]interface{}{"AWS_ACCESS_KEY_ID": "AKIAOLD", "AWS_SECRET_ACCESS_KEY": "old", "region": "us-east-1"}
	f.version["ci/aws"] = 3
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := vaultConfig(srv.URL, nil, distributor.Project{Target: "ci/aws", KeyIDName: "AWS_ACCESS_KEY_ID", SecretName: "AWS_SECRET_ACCESS_KEY"})
	d, err := NewVaultDistributor("vault", cfg, logging.New(false, true))
	require.NoError(t, err)
	require.NoError(t, d.ValidateConfiguration(cfg))

	require.NoError(t, d.PushNewCredentials(context.Background(), cfg, "AKIANEW", logging.Secret("new")))

	assert.Equal(t, map[string]interface{}{
		"AWS_ACCESS_KEY_ID":     "AKIANEW",
		"AWS_SECRET_ACCESS_KEY": "new",
		"region":                "us-east-1",
	}, f.v2["ci/aws"])
	assert.Equal(t, 4, f.version["ci/aws"])
	require.Len(t, f.writes, 1)
	assert.Equal(t, map[string]interface{}{"cas": float64(3)}, f.writes[0]["options"])
}

func TestVaultDistributor_KVv1(t *testing.T) {
	t.Parallel()

	f := newFakeVault()
	f.v1["ci/aws"] = map[string]interface{}{"id": "AKIAOLD", "secret": "old"}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := vaultConfig(srv.URL, map[string]interface{}{"kv_version": 1, "mount": "kv"},
		distributor.Project{Target: "/ci/aws/", KeyIDName: "id", SecretName: "secret"})
	d, err := NewVaultDistributor("vault", cfg, logging.New(false, true))
	require.NoError(t, err)

	require.NoError(t, d.PushNewCredentials(context.Background(), cfg, "AKIANEW", logging.Secret("new")))
	assert.Equal(t, map[string]interface{}{"id": "AKIANEW", "secret": "new"}, f.v1["ci/aws"])
}

func TestVaultDistributor_LocationNotFound(t *testing.T) {
	t.Parallel()

	f := newFakeVault()
	f.v2["ci/aws"] = map[string]interface{}{"AWS_ACCESS_KEY_ID": "AKIAOLD"}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	d, err := NewVaultDistributor("vault", vaultConfig(srv.URL, nil), logging.New(false, true))
	require.NoError(t, err)

	tests := []struct {
		name     string
		target   string
		location string
	}{
		{name: "missing field", target: "ci/aws", location: "AWS_SECRET_ACCESS_KEY"},
		{name: "missing secret", target: "ci/none", location: "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := vaultConfig(srv.URL, nil, distributor.Project{Target: tt.target, KeyIDName: "AWS_ACCESS_KEY_ID", SecretName: "AWS_SECRET_ACCESS_KEY"})
			err := d.PushNewCredentials(context.Background(), cfg, "AKIA", logging.Secret("s"))
			var lnf *distributor.LocationNotFoundError
			require.ErrorAs(t, err, &lnf)
			assert.Equal(t, tt.location, lnf.Location)
		})
	}
	assert.Empty(t, f.writes)
}

func TestVaultDistributor_PermissionDenied(t *testing.T) {
	t.Parallel()

	f := newFakeVault()
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := vaultConfig(srv.URL, nil, distributor.Project{Target: "ci/aws", KeyIDName: "K", SecretName: "S"})
	cfg.Auth = logging.Secret("wrong")
	d, err := NewVaultDistributor("vault", cfg, logging.New(false, true))
	require.NoError(t, err)

	err = d.PushNewCredentials(context.Background(), cfg, "AKIA", logging.Secret("s"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, distributor.ErrLocationNotFound)
	assert.Contains(t, err.Error(), "vault error")
}

func TestVaultDistributor_Validate(t *testing.T) {
	t.Parallel()

	d, err := NewVaultDistributor("vault", distributor.ServiceConfiguration{}, logging.New(false, true))
	require.NoError(t, err)
	cfg := vaultConfig("", map[string]interface{}{"kv_version": 3}, distributor.Project{Target: "a", KeyIDName: "K", SecretName: "S"})
	assert.ErrorContains(t, d.ValidateConfiguration(cfg), "kv_version must be 1 or 2")
}

func TestVaultPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "secret/data/ci/aws", vaultPaths("secret", "ci/aws", 2))
	assert.Equal(t, "kv/ci/aws", vaultPaths("/kv/", "/ci/aws", 1))
}
