package keystore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/keystore"
	"github.com/systmms/keyrot/tests/fakes"
)

func TestIAMStore_ListKeys(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	client := fakes.NewFakeIAMClient()
	client.AddKey("ci-deployer", "AKIA1", t1, iamtypes.StatusTypeInactive)
	client.AddKey("ci-deployer", "AKIA2", t2, iamtypes.StatusTypeActive)

	store := keystore.NewIAMStore(client, logging.New(false, true))
	keys, err := store.ListKeys(context.Background(), "ci-deployer")
	require.NoError(t, err)

	assert.Equal(t, []keystore.AccessKey{
		{ID: "AKIA1", CreatedAt: t1, Status: keystore.StatusInactive},
		{ID: "AKIA2", CreatedAt: t2, Status: keystore.StatusActive},
	}, keys)
}

func TestIAMStore_ListKeysFollowsPagination(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeIAMClient()
	client.PageSize = 1
	base := time.Now().UTC()
	client.AddKey("ci-deployer", "AKIA1", base, iamtypes.StatusTypeActive)
	client.AddKey("ci-deployer", "AKIA2", base.Add(time.Minute), iamtypes.StatusTypeActive)
	client.AddKey("ci-deployer", "AKIA3", base.Add(2*time.Minute), iamtypes.StatusTypeActive)

	store := keystore.NewIAMStore(client, logging.New(false, true))
	keys, err := store.ListKeys(context.Background(), "ci-deployer")
	require.NoError(t, err)

	assert.Len(t, keys, 3)
	assert.Equal(t, 3, client.ListCalls)
}

func TestIAMStore_PreservesUnknownStatus(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeIAMClient()
	client.AddKey("ci-deployer", "AKIA1", time.Now(), iamtypes.StatusType("Expired"))

	store := keystore.NewIAMStore(client, logging.New(false, true))
	keys, err := store.ListKeys(context.Background(), "ci-deployer")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, keystore.Status("Expired"), keys[0].Status)
}

func TestIAMStore_CreateUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := fakes.NewFakeIAMClient()
	client.AddUser("ci-deployer")
	store := keystore.NewIAMStore(client, logging.New(false, true))

	created, err := store.CreateKey(ctx, "ci-deployer")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, keystore.StatusActive, created.Status)
	assert.NotEmpty(t, created.Secret.Reveal())
	assert.False(t, created.CreatedAt.IsZero())

	require.NoError(t, store.UpdateKeyStatus(ctx, "ci-deployer", created.ID, keystore.StatusInactive))
	keys, err := store.ListKeys(ctx, "ci-deployer")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, keystore.StatusInactive, keys[0].Status)

	require.NoError(t, store.DeleteKey(ctx, "ci-deployer", created.ID))
	keys, err = store.ListKeys(ctx, "ci-deployer")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIAMStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := fakes.NewFakeIAMClient()
	store := keystore.NewIAMStore(client, logging.New(false, true))

	_, err := store.ListKeys(ctx, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, keystore.ErrNotFound)

	client.AddUser("ci-deployer")
	err = store.DeleteKey(ctx, "ci-deployer", "AKIAMISSING")
	assert.ErrorIs(t, err, keystore.ErrNotFound)

	// A generic API error carrying the NoSuchEntity code maps the same way.
	client.Errors["UpdateAccessKey"] = &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "gone"}
	err = store.UpdateKeyStatus(ctx, "ci-deployer", "AKIA1", keystore.StatusInactive)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestIAMStore_OtherErrorsCarrySuggestions(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeIAMClient()
	client.AddUser("ci-deployer")
	apiErr := &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform iam:CreateAccessKey"}
	client.Errors["CreateAccessKey"] = apiErr

	store := keystore.NewIAMStore(client, logging.New(false, true))
	_, err := store.CreateKey(context.Background(), "ci-deployer")
	require.Error(t, err)

	assert.False(t, errors.Is(err, keystore.ErrNotFound))
	assert.ErrorIs(t, err, apiErr)
	var ue dserrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Suggestion, "iam:CreateAccessKey")
}
