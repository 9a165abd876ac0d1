package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps full resource names (projects/X/secrets/Y) to their versions, oldest first
	Secrets map[string][]*secretmanagerpb.SecretVersion
	// Payloads maps version resource names to their data
	Payloads map[string][]byte
	// Errors maps resource names to errors to return
	Errors map[string]error
}

// NewFakeGCPSecretManagerClient creates an empty fake client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets:  make(map[string][]*secretmanagerpb.SecretVersion),
		Payloads: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

// AddSecret creates a secret container with no versions
func (f *FakeGCPSecretManagerClient) AddSecret(projectID, secretID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID)] = nil
}

// AddError configures an error for a resource name
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[resourceName] = err
}

// Latest returns the newest payload of a secret
func (f *FakeGCPSecretManagerClient) Latest(projectID, secretID string) (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.Secrets[fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID)]
	if len(versions) == 0 {
		return "", 0
	}
	return string(f.Payloads[versions[len(versions)-1].Name]), len(versions)
}

// GetSecret returns secret metadata
func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.Name]; err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[req.Name]; !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", req.Name)
	}
	return &secretmanagerpb.Secret{Name: req.Name}, nil
}

// AddSecretVersion appends an enabled version
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.Parent]; err != nil {
		return nil, err
	}
	versions, ok := f.Secrets[req.Parent]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", req.Parent)
	}

	v := &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", req.Parent, len(versions)+1),
		CreateTime: timestamppb.New(time.Now()),
		State:      secretmanagerpb.SecretVersion_ENABLED,
	}
	f.Secrets[req.Parent] = append(versions, v)
	f.Payloads[v.Name] = append([]byte(nil), req.GetPayload().GetData()...)
	return v, nil
}
