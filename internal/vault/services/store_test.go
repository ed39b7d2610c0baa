package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDeviceID(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	id, err := EnsureDeviceID(ctx, db)
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.Regexp(t, "^[0-9a-f]+$", id)

	// The identifier is persisted, not regenerated per call.
	again, err := EnsureDeviceID(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}
