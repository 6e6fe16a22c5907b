package githubapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/hive/internal/kv"
)

func TestKVStateStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	store := NewKVStateStore(mem)

	ok, err := store.Take(ctx, "sess-1", "c3RhdGU=")
	require.NoError(t, err)
	assert.False(t, ok, "nothing pending yet")

	require.NoError(t, store.Put(ctx, "sess-1", "c3RhdGU="))
	raw, err := mem.Get(ctx, "github_state:sess-1")
	require.NoError(t, err)
	assert.Equal(t, "c3RhdGU=", string(raw))

	ok, _ = store.Take(ctx, "sess-2", "c3RhdGU=")
	assert.False(t, ok, "states are per session")

	ok, err = store.Take(ctx, "sess-1", "b3RoZXI=")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = mem.Get(ctx, "github_state:sess-1")
	assert.NoError(t, err, "a mismatch leaves the pending state")

	ok, err = store.Take(ctx, "sess-1", "c3RhdGU=")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Take(ctx, "sess-1", "c3RhdGU=")
	require.NoError(t, err)
	assert.False(t, ok, "a state is taken once")
}

func TestSessionStateStore_Take(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	store := NewSessionStateStore(e.db)

	require.NoError(t, store.Put(ctx, e.session.ID, "c3RhdGU="))

	ok, err := store.Take(ctx, e.session.ID, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Take(ctx, e.session.ID, "c3RhdGU=")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, e.storedState(t))

	ok, err = store.Take(ctx, e.session.ID, "c3RhdGU=")
	require.NoError(t, err)
	assert.False(t, ok)
}
