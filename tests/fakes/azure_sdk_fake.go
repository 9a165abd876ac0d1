package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is an in-memory Key Vault
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their values, oldest first
	Secrets map[string][]string
	// Errors maps secret names to errors to return
	Errors map[string]error
	// ContentTypes records the content type of the last SetSecret per name
	ContentTypes map[string]string
}

// NewFakeAzureKeyVaultClient creates an empty fake vault
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets:      make(map[string][]string),
		Errors:       make(map[string]error),
		ContentTypes: make(map[string]string),
	}
}

// AddSecretString stores an initial version
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = []string{value}
}

// AddError configures an error for a secret name
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// Latest returns the newest value of a secret and its version count
func (f *FakeAzureKeyVaultClient) Latest(name string) (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.Secrets[name]
	if len(versions) == 0 {
		return "", 0
	}
	return versions[len(versions)-1], len(versions)
}

func secretNotFound() error {
	return &azcore.ResponseError{
		StatusCode: 404,
		ErrorCode:  "SecretNotFound",
	}
}

// GetSecret returns the latest version of a secret
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[name]; err != nil {
		return azsecrets.GetSecretResponse{}, err
	}
	versions, ok := f.Secrets[name]
	if !ok || len(versions) == 0 {
		return azsecrets.GetSecretResponse{}, secretNotFound()
	}
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    (*azsecrets.ID)(to.Ptr(fmt.Sprintf("https://test-vault.vault.azure.net/secrets/%s/%d", name, len(versions)))),
			Value: to.Ptr(versions[len(versions)-1]),
		},
	}, nil
}

// SetSecret adds a new version
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[name]; err != nil {
		return azsecrets.SetSecretResponse{}, err
	}
	value := ""
	if parameters.Value != nil {
		value = *parameters.Value
	}
	f.Secrets[name] = append(f.Secrets[name], value)
	if parameters.ContentType != nil {
		f.ContentTypes[name] = *parameters.ContentType
	}
	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    (*azsecrets.ID)(to.Ptr(fmt.Sprintf("https://test-vault.vault.azure.net/secrets/%s/%d", name, len(f.Secrets[name])))),
			Value: parameters.Value,
		},
	}, nil
}
