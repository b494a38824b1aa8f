package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/pkg/schema"
)

func sample() Snapshot {
	return Snapshot{
		Nodes:    []schema.FlowNode{{ID: "a"}, {ID: "b"}},
		Edges:    []schema.FlowEdge{schema.NewEdge("a", "b")},
		Viewport: schema.Viewport{X: 1, Y: 2, Zoom: 0.5},
	}
}

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Save(ctx, sample()))
	got, err = c.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, "ea-b", got.Edges[0].ID)
	assert.Equal(t, 0.5, got.Viewport.Zoom)
	assert.NotZero(t, got.Timestamp)

	// last writer wins
	require.NoError(t, c.Save(ctx, Snapshot{Nodes: []schema.FlowNode{{ID: "z"}}}))
	got, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)

	require.NoError(t, c.Clear(ctx))
	got, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemoryCache())
}

func TestStoreCache(t *testing.T) {
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	exercise(t, NewStoreCache(st))
}

func TestMemoryCache_CorruptBlob(t *testing.T) {
	c := NewMemoryCache()
	c.SetRaw([]byte("{not json"))
	_, err := c.Load(context.Background())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeSession))
}

func TestEncode_StampsTimestampAndEmptyLists(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	data, err := Encode(Snapshot{}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"edges":[],"viewport":{"x":0,"y":0,"zoom":0},"timestamp":1700000000000}`, string(data))
}

func TestSnapshot_Empty(t *testing.T) {
	assert.True(t, Snapshot{}.Empty())
	assert.False(t, sample().Empty())
}
