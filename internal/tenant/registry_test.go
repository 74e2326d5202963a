package tenant

import (
	"context"
	"errors"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/vectorstore"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	vectorstore.Store
	creates   atomic.Int32
	createErr error
}

func (s *countingStore) CreateCollection(ctx context.Context, name string, dim int) (bool, error) {
	s.creates.Add(1)
	if s.createErr != nil {
		return false, s.createErr
	}
	return s.Store.CreateCollection(ctx, name, dim)
}

type fakeEmbedder struct{}

func (fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text))}, nil
}

func (fakeEmbedder) Model() string { return "fake" }

func newRegistry(t *testing.T) (*Registry, *countingStore) {
	t.Helper()
	mem, err := vectorstore.NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	store := &countingStore{Store: mem}
	cfg := config.Default()
	cfg.VectorStore.Dimensions = 2
	reg, err := NewRegistry(cfg, store, fakeEmbedder{})
	require.NoError(t, err)
	return reg, store
}

func TestGetOrCreateReturnsSamePair(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	c1, p1, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)
	c2, p2, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Same(t, p1, p2)
	assert.Equal(t, "org-acme", c1.Name())
	assert.Equal(t, "org-acme", p1.Collection())
	assert.EqualValues(t, 1, store.creates.Load())
}

func TestDistinctTenantsGetDistinctResources(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	ca, pa, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)
	cb, pb, err := reg.GetOrCreate(ctx, "globex")
	require.NoError(t, err)

	assert.NotSame(t, ca, cb)
	assert.NotSame(t, pa, pb)
	assert.NotEqual(t, ca.Name(), cb.Name())
}

func TestConcurrentFirstAccessCreatesOnce(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	const workers = 32
	results := make([]*Collection, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := reg.GetOrCreate(ctx, "acme")
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}
	assert.EqualValues(t, 1, store.creates.Load())
	assert.Equal(t, 1, reg.Stats().TenantCount)
}

func TestGetOrCreateEmptyTenant(t *testing.T) {
	reg, _ := newRegistry(t)
	_, _, err := reg.GetOrCreate(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInput))
}

func TestGetOrCreateBackendFailureIsNotCached(t *testing.T) {
	reg, store := newRegistry(t)
	store.createErr = errors.New("connection refused")

	_, _, err := reg.GetOrCreate(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDownstream))
	assert.Zero(t, reg.Stats().TenantCount)

	store.createErr = nil
	_, _, err = reg.GetOrCreate(context.Background(), "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.creates.Load())
}

func TestStatsAndRemove(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"zeta", "acme", "mid"} {
		_, _, err := reg.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	stats := reg.Stats()
	assert.Equal(t, 3, stats.TenantCount)
	assert.Equal(t, 3, stats.InstanceCount)
	assert.Equal(t, []string{"acme", "mid", "zeta"}, stats.TenantIDs)
	assert.NotEmpty(t, stats.RegistryID)

	assert.True(t, reg.Remove("mid"))
	assert.False(t, reg.Remove("mid"))
	assert.Equal(t, []string{"acme", "zeta"}, reg.Stats().TenantIDs)
	assert.Equal(t, stats.RegistryID, reg.Stats().RegistryID)
}

func TestRemoveKeepsPersistedCollection(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	coll, p, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)
	n, err := p.Run(ctx, []model.Document{{
		Content:  "hello world",
		Metadata: map[string]string{model.MetaDocID: "d1"},
	}}, model.TenantIdentity{OrganizationID: "acme"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, reg.Remove("acme"))
	coll2, _, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)
	assert.NotSame(t, coll, coll2)

	info, err := coll2.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)
	assert.Equal(t, "org-acme", info.Name)
	assert.EqualValues(t, 2, store.creates.Load())
}

func TestCollectionNameIsPure(t *testing.T) {
	reg, _ := newRegistry(t)
	assert.Equal(t, "org-acme", reg.CollectionName("acme"))
	assert.Equal(t, reg.CollectionName("acme"), reg.CollectionName("acme"))
}

func TestNewRegistryRejectsBadSplit(t *testing.T) {
	cfg := config.Default()
	cfg.Indexing.SplitBy = "chapter"
	_, err := NewRegistry(cfg, nil, fakeEmbedder{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestGetOrCreateRejectsUnsafeTenantIDs(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"Acme", "ACME", "*", "acme*", "a,b", "-acme", "acme corp", "../acme", strings.Repeat("a", 64)} {
		_, _, err := reg.GetOrCreate(ctx, id)
		require.Error(t, err, id)
		assert.True(t, errs.Is(err, errs.KindInput), id)
		assert.False(t, reg.Cached(id), id)
	}
	assert.Zero(t, store.creates.Load())

	for _, id := range []string{"acme", "acme-eu", "team_7", "42"} {
		_, _, err := reg.GetOrCreate(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestReindexShrinksAndKeepsOtherDocs(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	coll, p, err := reg.GetOrCreate(ctx, "acme")
	require.NoError(t, err)
	identity := model.TenantIdentity{OrganizationID: "acme"}

	long := strings.Repeat("word ", 2500)
	n, err := p.Run(ctx, []model.Document{{Content: long, Metadata: map[string]string{model.MetaDocID: "d1"}}}, identity)
	require.NoError(t, err)
	require.Greater(t, n, 1)
	_, err = p.Run(ctx, []model.Document{{Content: "other doc", Metadata: map[string]string{model.MetaDocID: "d2"}}}, identity)
	require.NoError(t, err)

	n, err = p.Run(ctx, []model.Document{{Content: "short now", Metadata: map[string]string{model.MetaDocID: "d1"}}}, identity)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	info, err := coll.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.PointsCount)
}

func TestDeleteStaleIsScopedToTenant(t *testing.T) {
	mem, err := vectorstore.NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = mem.CreateCollection(ctx, "shared", 2)
	require.NoError(t, err)
	require.NoError(t, mem.Upsert(ctx, "shared", []model.Chunk{
		{ID: "d1_0", DocID: "d1", Content: "a", Vector: []float32{1, 0}, Metadata: map[string]string{model.MetaOrganizationID: "acme"}},
		{ID: "g1_0", DocID: "d1", Content: "b", Vector: []float32{0, 1}, Metadata: map[string]string{model.MetaOrganizationID: "globex"}},
	}))

	coll := &Collection{name: "shared", tenant: "acme", dim: 2, store: mem}
	require.NoError(t, coll.DeleteStale(ctx, "d1", nil))

	info, err := coll.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)
}
