package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeIAMClient is an in-memory IAM access key API
type FakeIAMClient struct {
	mu sync.Mutex

	// Keys maps user names to their access keys
	Keys map[string][]iamtypes.AccessKeyMetadata
	// PageSize splits ListAccessKeys results into pages when > 0
	PageSize int
	// Errors maps operation names ("ListAccessKeys", ...) to errors to return
	Errors map[string]error
	// ListCalls counts ListAccessKeys invocations
	ListCalls int

	seq int
}

// NewFakeIAMClient creates an empty fake IAM client
func NewFakeIAMClient() *FakeIAMClient {
	return &FakeIAMClient{
		Keys:   make(map[string][]iamtypes.AccessKeyMetadata),
		Errors: make(map[string]error),
	}
}

// AddUser registers a user with no keys
func (f *FakeIAMClient) AddUser(user string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Keys[user]; !ok {
		f.Keys[user] = []iamtypes.AccessKeyMetadata{}
	}
}

// AddKey adds an access key to a user
func (f *FakeIAMClient) AddKey(user, id string, created time.Time, status iamtypes.StatusType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keys[user] = append(f.Keys[user], iamtypes.AccessKeyMetadata{
		UserName:    aws.String(user),
		AccessKeyId: aws.String(id),
		CreateDate:  aws.Time(created),
		Status:      status,
	})
}

func (f *FakeIAMClient) noSuchUser(user string) error {
	return &iamtypes.NoSuchEntityException{
		Message: aws.String(fmt.Sprintf("The user with name %s cannot be found.", user)),
	}
}

// ListAccessKeys returns the user's keys, paged by PageSize
func (f *FakeIAMClient) ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++

	if err := f.Errors["ListAccessKeys"]; err != nil {
		return nil, err
	}

	user := aws.ToString(params.UserName)
	keys, ok := f.Keys[user]
	if !ok {
		return nil, f.noSuchUser(user)
	}

	start := 0
	if params.Marker != nil {
		fmt.Sscanf(aws.ToString(params.Marker), "%d", &start)
	}
	end := len(keys)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &iam.ListAccessKeysOutput{
		AccessKeyMetadata: append([]iamtypes.AccessKeyMetadata(nil), keys[start:end]...),
	}
	if end < len(keys) {
		out.IsTruncated = true
		out.Marker = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

// CreateAccessKey creates an Active key with a generated secret
func (f *FakeIAMClient) CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["CreateAccessKey"]; err != nil {
		return nil, err
	}

	user := aws.ToString(params.UserName)
	if _, ok := f.Keys[user]; !ok {
		return nil, f.noSuchUser(user)
	}
	if len(f.Keys[user]) >= 2 {
		return nil, &iamtypes.LimitExceededException{
			Message: aws.String("Cannot exceed quota for AccessKeysPerUser: 2"),
		}
	}

	f.seq++
	id := fmt.Sprintf("AKIAFAKE%012d", f.seq)
	now := time.Now().UTC()
	f.Keys[user] = append(f.Keys[user], iamtypes.AccessKeyMetadata{
		UserName:    aws.String(user),
		AccessKeyId: aws.String(id),
		CreateDate:  aws.Time(now),
		Status:      iamtypes.StatusTypeActive,
	})

	return &iam.CreateAccessKeyOutput{
		AccessKey: &iamtypes.AccessKey{
			UserName:        aws.String(user),
			AccessKeyId:     aws.String(id),
			SecretAccessKey: aws.String(fmt.Sprintf("fake-secret-%d", f.seq)),
			CreateDate:      aws.Time(now),
			Status:          iamtypes.StatusTypeActive,
		},
	}, nil
}

// UpdateAccessKey changes a key's status
func (f *FakeIAMClient) UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["UpdateAccessKey"]; err != nil {
		return nil, err
	}

	user := aws.ToString(params.UserName)
	for i, k := range f.Keys[user] {
		if aws.ToString(k.AccessKeyId) == aws.ToString(params.AccessKeyId) {
			f.Keys[user][i].Status = params.Status
			return &iam.UpdateAccessKeyOutput{}, nil
		}
	}
	return nil, &iamtypes.NoSuchEntityException{
		Message: aws.String(fmt.Sprintf("The Access Key with id %s cannot be found.", aws.ToString(params.AccessKeyId))),
	}
}

// DeleteAccessKey removes a key
func (f *FakeIAMClient) DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["DeleteAccessKey"]; err != nil {
		return nil, err
	}

	user := aws.ToString(params.UserName)
	keys := f.Keys[user]
	for i, k := range keys {
		if aws.ToString(k.AccessKeyId) == aws.ToString(params.AccessKeyId) {
			f.Keys[user] = append(keys[:i:i], keys[i+1:]...)
			return &iam.DeleteAccessKeyOutput{}, nil
		}
	}
	return nil, &iamtypes.NoSuchEntityException{
		Message: aws.String(fmt.Sprintf("The Access Key with id %s cannot be found.", aws.ToString(params.AccessKeyId))),
	}
}

// FakeSSMClient is an in-memory Parameter Store
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps names to stored parameters
	Parameters map[string]*ParameterData
	// Errors maps parameter names to errors to return from any call
	Errors map[string]error
	// PutCalls records every PutParameter input
	PutCalls []*ssm.PutParameterInput
}

// ParameterData holds one stored parameter
type ParameterData struct {
	Value   string
	Type    ssmtypes.ParameterType
	Version int64
}

// NewFakeSSMClient creates an empty fake SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]*ParameterData),
		Errors:     make(map[string]error),
	}
}

// AddStringParameter stores a String parameter
func (f *FakeSSMClient) AddStringParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = &ParameterData{Value: value, Type: ssmtypes.ParameterTypeString, Version: 1}
}

// AddSecureStringParameter stores a SecureString parameter
func (f *FakeSSMClient) AddSecureStringParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = &ParameterData{Value: value, Type: ssmtypes.ParameterTypeSecureString, Version: 1}
}

// Parameter returns a copy of a stored parameter
func (f *FakeSSMClient) Parameter(name string) (ParameterData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Parameters[name]
	if !ok {
		return ParameterData{}, false
	}
	return *p, true
}

// AddError configures an error for a parameter name
func (f *FakeSSMClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// GetParameter returns a stored parameter
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}

	p, ok := f.Parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("Parameter " + name + " not found.")}
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:    aws.String(name),
			Value:   aws.String(p.Value),
			Type:    p.Type,
			Version: p.Version,
		},
	}, nil
}

// PutParameter stores a parameter, honouring Overwrite
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PutCalls = append(f.PutCalls, params)
	name := aws.ToString(params.Name)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}

	existing, ok := f.Parameters[name]
	if ok && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("The parameter already exists.")}
	}

	version := int64(1)
	if ok {
		version = existing.Version + 1
	}
	f.Parameters[name] = &ParameterData{Value: aws.ToString(params.Value), Type: params.Type, Version: version}
	return &ssm.PutParameterOutput{Version: version}, nil
}

// DeleteParameter removes a parameter
func (f *FakeSSMClient) DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Parameters[name]; !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("Parameter " + name + " not found.")}
	}
	delete(f.Parameters, name)
	return &ssm.DeleteParameterOutput{}, nil
}

// FakeSecretsManagerClient is an in-memory Secrets Manager
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret ids to their version history, oldest first
	Secrets map[string][]SecretVersion
	// Errors maps secret ids to errors to return
	Errors map[string]error
}

// SecretVersion is one stored version of a secret
type SecretVersion struct {
	VersionID    string
	SecretString string
	Stages       []string
}

// NewFakeSecretsManagerClient creates an empty fake Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string][]SecretVersion),
		Errors:  make(map[string]error),
	}
}

// AddSecretString stores an initial AWSCURRENT version
func (f *FakeSecretsManagerClient) AddSecretString(id, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[id] = []SecretVersion{{VersionID: "v1", SecretString: value, Stages: []string{"AWSCURRENT"}}}
}

// Current returns the AWSCURRENT value of a secret
func (f *FakeSecretsManagerClient) Current(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current(id)
}

func (f *FakeSecretsManagerClient) current(id string) (string, bool) {
	for _, v := range f.Secrets[id] {
		for _, s := range v.Stages {
			if s == "AWSCURRENT" {
				return v.SecretString, true
			}
		}
	}
	return "", false
}

// GetSecretValue returns the AWSCURRENT version
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.SecretId)
	if err := f.Errors[id]; err != nil {
		return nil, err
	}

	value, ok := f.current(id)
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", id)),
		}
	}
	return &secretsmanager.GetSecretValueOutput{
		Name:          params.SecretId,
		SecretString:  aws.String(value),
		VersionStages: []string{"AWSCURRENT"},
	}, nil
}

// PutSecretValue adds a new AWSCURRENT version, demoting the previous one to AWSPREVIOUS
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.SecretId)
	if err := f.Errors[id]; err != nil {
		return nil, err
	}

	versions, ok := f.Secrets[id]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", id)),
		}
	}

	token := aws.ToString(params.ClientRequestToken)
	for _, v := range versions {
		if token != "" && v.VersionID == token {
			// Same token, same value: idempotent replay.
			return &secretsmanager.PutSecretValueOutput{Name: params.SecretId, VersionId: aws.String(token)}, nil
		}
	}

	for i := range versions {
		var stages []string
		for _, s := range versions[i].Stages {
			if s == "AWSCURRENT" {
				stages = append(stages, "AWSPREVIOUS")
			}
		}
		versions[i].Stages = stages
	}
	if token == "" {
		token = fmt.Sprintf("v%d", len(versions)+1)
	}
	f.Secrets[id] = append(versions, SecretVersion{
		VersionID:    token,
		SecretString: aws.ToString(params.SecretString),
		Stages:       []string{"AWSCURRENT"},
	})

	return &secretsmanager.PutSecretValueOutput{
		Name:          params.SecretId,
		VersionId:     aws.String(token),
		VersionStages: []string{"AWSCURRENT"},
	}, nil
}

// SortedParameterNames lists stored parameter names, mostly for assertions
func (f *FakeSSMClient) SortedParameterNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Parameters))
	for n := range f.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
