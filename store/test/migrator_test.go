package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	version, err := ts.GetCurrentSchemaVersion(ctx)
	require.NoError(t, err)
	expected := "0.2.0"
	if getDriverFromEnv() == "postgres" {
		expected = "0.3.0"
	}
	assert.Equal(t, expected, version)

	require.NoError(t, ts.Migrate(ctx))
	again, err := ts.GetCurrentSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, again)

	initialized, err := ts.GetDriver().IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)
}
