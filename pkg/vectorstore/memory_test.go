package vectorstore

import (
	"context"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(docID string, idx int, org, content string, vec ...float32) model.Chunk {
	return model.Chunk{
		ID:      model.ChunkID(docID, idx),
		DocID:   docID,
		Index:   idx,
		Content: content,
		Vector:  vec,
		Metadata: map[string]string{
			model.MetaOrganizationID: org,
		},
	}
}

func TestMemoryCreateCollectionIdempotent(t *testing.T) {
	store, err := New(config.VectorStoreConfig{Backend: "memory"})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.CreateCollection(ctx, "org-acme", 3)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateCollection(ctx, "org-acme", 3)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryUpsertOverwritesByChunkID(t *testing.T) {
	store, err := NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateCollection(ctx, "org-acme", 3)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "org-acme", []model.Chunk{chunk("d1", 0, "acme", "old", 1, 0, 0)}))
	require.NoError(t, store.Upsert(ctx, "org-acme", []model.Chunk{chunk("d1", 0, "acme", "new", 1, 0, 0)}))

	info, err := store.Info(ctx, "org-acme")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)

	hits, err := store.Query(ctx, "org-acme", []float32{1, 0, 0}, 10, Filter{model.MetaOrganizationID: "acme"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Content)
	assert.Equal(t, "d1", hits[0].Metadata[model.MetaDocID])
}

func TestMemoryQueryFilterAndEmpty(t *testing.T) {
	store, err := NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateCollection(ctx, "shared", 2)
	require.NoError(t, err)

	hits, err := store.Query(ctx, "shared", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, store.Upsert(ctx, "shared", []model.Chunk{
		chunk("a", 0, "acme", "acme text", 1, 0),
		chunk("b", 0, "globex", "globex text", 0, 1),
	}))
	hits, err = store.Query(ctx, "shared", []float32{0, 1}, 10, Filter{model.MetaOrganizationID: "acme"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "acme text", hits[0].Content)
}

func TestMemoryDeleteByFilter(t *testing.T) {
	store, err := NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateCollection(ctx, "org-acme", 2)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, "org-acme", []model.Chunk{
		chunk("d1", 0, "acme", "one", 1, 0),
		chunk("d1", 1, "acme", "two", 1, 1),
		chunk("d2", 0, "acme", "three", 0, 1),
	}))

	require.NoError(t, store.DeleteByFilter(ctx, "org-acme", Filter{model.MetaDocID: "d1"}))
	info, err := store.Info(ctx, "org-acme")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)

	assert.Error(t, store.DeleteByFilter(ctx, "org-acme", nil))
}

func TestMemoryDeleteByFilterKeepsListedChunks(t *testing.T) {
	store, err := NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateCollection(ctx, "org-acme", 2)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, "org-acme", []model.Chunk{
		chunk("d1", 0, "acme", "one", 1, 0),
		chunk("d1", 1, "acme", "two", 1, 1),
		chunk("d1", 2, "acme", "three", 0, 1),
		chunk("d2", 0, "acme", "other", 0, 1),
	}))

	require.NoError(t, store.DeleteByFilter(ctx, "org-acme", Filter{model.MetaDocID: "d1"}, "d1_0"))

	hits, err := store.Query(ctx, "org-acme", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"d1_0", "d2_0"}, ids)

	assert.Error(t, store.DeleteByFilter(ctx, "org-acme", Filter{model.MetaDocID: "d1"}, "missing_0"))
}

func TestMemoryMissingCollection(t *testing.T) {
	store, err := NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	_, err = store.Info(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		raw    string
		host   string
		port   int
		useTLS bool
	}{
		{"localhost:6334", "localhost", 6334, false},
		{"http://qdrant:7000", "qdrant", 7000, false},
		{"https://cloud.qdrant.io", "cloud.qdrant.io", defaultQdrantPort, true},
	}
	for _, tt := range tests {
		host, port, useTLS, err := parseQdrantURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.host, host)
		assert.Equal(t, tt.port, port)
		assert.Equal(t, tt.useTLS, useTLS)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, pointID("org-acme", "d1_0"), pointID("org-acme", "d1_0"))
	assert.NotEqual(t, pointID("org-acme", "d1_0"), pointID("org-acme", "d1_1"))
}
