package distributors

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/crypto/nacl/box"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// DefaultGitHubEndpoint is the public GitHub REST API
const DefaultGitHubEndpoint = "https://api.github.com"

// GitHubDistributor writes the key id to an Actions repository variable and
// the secret to an Actions repository secret.
type GitHubDistributor struct {
	name       string
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// GitHubOption configures a GitHubDistributor
type GitHubOption func(*GitHubDistributor)

// WithGitHubHTTPClient replaces the HTTP client (for testing)
func WithGitHubHTTPClient(client *http.Client) GitHubOption {
	return func(d *GitHubDistributor) {
		d.httpClient = client
	}
}

type githubPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// NewGitHubDistributor creates a GitHub Actions distributor
func NewGitHubDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...GitHubOption) (*GitHubDistributor, error) {
	d := &GitHubDistributor{
		name:       name,
		endpoint:   strings.TrimRight(cfg.Option("endpoint", DefaultGitHubEndpoint), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *GitHubDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires a token and owner/repo project targets
func (d *GitHubDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		owner, repo, ok := strings.Cut(p.Target, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return &distributor.ValidationError{
				Distributor: cfg.Name,
				Message:     fmt.Sprintf("project target %q must be an owner/repo slug", p.Target),
			}
		}
	}
	return nil
}

// PushNewCredentials checks that the variable and the secret exist, seals
// the secret with the repository public key and writes both.
func (d *GitHubDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	api := &apiClient{
		baseURL: d.endpoint,
		client:  d.httpClient,
		headers: map[string]string{
			"Authorization":        "Bearer " + cfg.Auth.Reveal(),
			"Accept":               "application/vnd.github+json",
			"X-GitHub-Api-Version": "2022-11-28",
			"User-Agent":           "keyrot",
		},
		redact: []string{cfg.Auth.Reveal(), secret.Reveal()},
	}

	for _, project := range cfg.Projects {
		owner, repo, _ := strings.Cut(project.Target, "/")
		repoPath := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/actions"
		variablePath := repoPath + "/variables/" + url.PathEscape(project.KeyIDName)
		secretPath := repoPath + "/secrets/" + url.PathEscape(project.SecretName)

		for _, loc := range []struct{ path, name string }{
			{variablePath, project.KeyIDName},
			{secretPath, project.SecretName},
		} {
			if err := api.do(ctx, http.MethodGet, loc.path, nil, nil); err != nil {
				if isStatus(err, http.StatusNotFound) {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: loc.name}
				}
				return dserrors.ProviderError("github", "look up "+loc.name+" in "+project.Target, err)
			}
		}

		var pk githubPublicKey
		if err := api.do(ctx, http.MethodGet, repoPath+"/secrets/public-key", nil, &pk); err != nil {
			return dserrors.ProviderError("github", "fetch public key for "+project.Target, err)
		}
		sealed, err := sealForGitHub(pk.Key, secret)
		if err != nil {
			return fmt.Errorf("%s: %w", project.Target, err)
		}

		if err := api.do(ctx, http.MethodPatch, variablePath, map[string]string{
			"name":  project.KeyIDName,
			"value": keyID,
		}, nil); err != nil {
			return dserrors.ProviderError("github", "update variable "+project.KeyIDName+" in "+project.Target, err)
		}
		if err := api.do(ctx, http.MethodPut, secretPath, map[string]string{
			"encrypted_value": sealed,
			"key_id":          pk.KeyID,
		}, nil); err != nil {
			return dserrors.ProviderError("github", "update secret "+project.SecretName+" in "+project.Target, err)
		}

		d.logger.Debug("Updated variable %s and secret %s in %s", project.KeyIDName, project.SecretName, project.Target)
	}
	return nil
}

// sealForGitHub encrypts secret to the base64 curve25519 public key with an
// anonymous sealed box and returns the base64 ciphertext.
func sealForGitHub(publicKey string, secret logging.Secret) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode repository public key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("repository public key has %d bytes, want 32", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)

	sealed, err := box.SealAnonymous(nil, []byte(secret.Reveal()), &key, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to seal secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

var _ distributor.Distributor = (*GitHubDistributor)(nil)
