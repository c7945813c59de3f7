package callback

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhqd/shopchat/internal/models"
)

func pendingEnvelope(t *testing.T, store Store, taskID string) *models.CallbackEnvelope {
	t.Helper()
	env, created, err := store.Create(context.Background(), &models.CallbackEnvelope{
		TaskID:   taskID,
		TenantID: uuid.New(),
		Kind:     KindItemDeleted,
		Payload:  json.RawMessage(`{"item_id":"prod_x"}`),
	})
	require.NoError(t, err)
	require.True(t, created)
	return env
}

func TestClaimDueSkipsFutureRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	env := pendingEnvelope(t, store, "future-task")

	require.NoError(t, store.MarkRetrying(ctx, env.ID, 1, time.Now().Add(time.Hour), "status 503"))

	envs, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, envs)

	envs, err = store.ClaimDue(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

// A claimed envelope is invisible to other claimers until it goes stale.
func TestClaimDueExclusiveUntilStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pendingEnvelope(t, store, "stale-task")

	envs, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, models.EnvelopeSending, envs[0].Status)

	// Second claimer sees nothing while the first is still working.
	envs, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, envs)

	// After the stale window the abandoned send is claimed again.
	envs, err = store.ClaimDue(ctx, time.Now().Add(StaleSendAfter+time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestClaimDueHonorsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	for i := 0; i < 5; i++ {
		pendingEnvelope(t, store, "bulk-"+uuid.NewString())
	}

	envs, err := store.ClaimDue(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, envs, 2)
}
