package distributors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// DefaultTravisEndpoint is the Travis CI API v3 base URL
const DefaultTravisEndpoint = "https://api.travis-ci.com"

// TravisDistributor writes keys into Travis CI repository environment
// variables through API v3.
type TravisDistributor struct {
	name       string
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// TravisOption configures a TravisDistributor
type TravisOption func(*TravisDistributor)

// WithTravisHTTPClient replaces the HTTP client (for testing)
func WithTravisHTTPClient(client *http.Client) TravisOption {
	return func(d *TravisDistributor) {
		d.httpClient = client
	}
}

type travisEnvVar struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

type travisEnvVars struct {
	EnvVars []travisEnvVar `json:"env_vars"`
}

// NewTravisDistributor creates a Travis CI distributor
func NewTravisDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...TravisOption) (*TravisDistributor, error) {
	d := &TravisDistributor{
		name:       name,
		endpoint:   strings.TrimRight(cfg.Option("endpoint", DefaultTravisEndpoint), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *TravisDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires a token and owner/repo project targets
func (d *TravisDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		if owner, repo, ok := strings.Cut(p.Target, "/"); !ok || owner == "" || repo == "" {
			return &distributor.ValidationError{
				Distributor: cfg.Name,
				Message:     fmt.Sprintf("project target %q must be an owner/repo slug", p.Target),
			}
		}
	}
	if _, err := url.Parse(d.endpoint); err != nil {
		return &distributor.ValidationError{Distributor: cfg.Name, Message: "invalid endpoint: " + err.Error()}
	}
	return nil
}

// PushNewCredentials resolves both env vars of every project, then
// overwrites them. The key id is public, the secret is not.
func (d *TravisDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	api := &apiClient{
		baseURL: d.endpoint,
		client:  d.httpClient,
		headers: map[string]string{
			"Travis-API-Version": "3",
			"Authorization":      "token " + cfg.Auth.Reveal(),
			"User-Agent":         "keyrot",
		},
		redact: []string{cfg.Auth.Reveal(), secret.Reveal()},
	}

	for _, project := range cfg.Projects {
		repoPath := "/repo/" + url.PathEscape(project.Target)

		var vars travisEnvVars
		if err := api.do(ctx, http.MethodGet, repoPath+"/env_vars", nil, &vars); err != nil {
			if isStatus(err, http.StatusNotFound) {
				return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: "repository"}
			}
			return dserrors.ProviderError("travis", "list env vars for "+project.Target, err)
		}

		ids := make(map[string]string, len(vars.EnvVars))
		for _, v := range vars.EnvVars {
			ids[v.Name] = v.ID
		}

		keyIDVar, ok := ids[project.KeyIDName]
		if !ok {
			return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: project.KeyIDName}
		}
		secretVar, ok := ids[project.SecretName]
		if !ok {
			return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: project.SecretName}
		}

		if err := d.patch(ctx, api, repoPath, keyIDVar, keyID, true); err != nil {
			return dserrors.ProviderError("travis", "update "+project.KeyIDName+" in "+project.Target, err)
		}
		if err := d.patch(ctx, api, repoPath, secretVar, secret.Reveal(), false); err != nil {
			return dserrors.ProviderError("travis", "update "+project.SecretName+" in "+project.Target, err)
		}

		d.logger.Debug("Updated %s and %s in %s", project.KeyIDName, project.SecretName, project.Target)
	}
	return nil
}

func (d *TravisDistributor) patch(ctx context.Context, api *apiClient, repoPath, id, value string, public bool) error {
	body := map[string]interface{}{
		"env_var.value":  value,
		"env_var.public": public,
	}
	return api.do(ctx, http.MethodPatch, repoPath+"/env_var/"+url.PathEscape(id), body, nil)
}

var _ distributor.Distributor = (*TravisDistributor)(nil)
