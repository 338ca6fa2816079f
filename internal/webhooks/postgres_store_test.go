//go:build integration

package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/testutil"
)

func TestPostgresStore_ConfigAndDeliveries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	svc := NewService(store)

	_, err := svc.Get(ctx)
	require.NoError(t, err, "unconfigured webhook reads as disabled, not an error")

	assert.ErrorIs(t, store.RecordDelivery(ctx, time.Now(), ""), ErrNotConfigured)

	_, err = svc.Configure(ctx, Update{URL: "https://hooks.example.com/guard", Enabled: true, Secret: "s3cret"}, owner)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.RecordDelivery(ctx, at, ""))
	require.NoError(t, store.RecordDelivery(ctx, at, "status 500"))

	c, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/guard", c.URL)
	assert.Equal(t, DefaultMinRiskThreshold, c.MinRiskThreshold)
	assert.True(t, c.HasSecret)
	require.NotNil(t, c.LastSuccess)
	assert.WithinDuration(t, at, *c.LastSuccess, time.Millisecond)
	assert.Equal(t, "status 500", c.LastError)
}
