package service

import (
	"context"
	"errors"
	"fmt"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/storage"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuckets struct {
	names map[string]bool
}

func (b *fakeBuckets) EnsureBucket(_ context.Context, name string) (bool, error) {
	if b.names[name] {
		return false, nil
	}
	b.names[name] = true
	return true, nil
}

func (b *fakeBuckets) ListBuckets(context.Context) ([]storage.BucketInfo, error) {
	out := make([]storage.BucketInfo, 0, len(b.names))
	for n := range b.names {
		out = append(out, storage.BucketInfo{Name: n})
	}
	return out, nil
}

type fakePresigner struct{ err error }

func (p fakePresigner) PresignedPutURL(_ context.Context, objectPath string, expiry time.Duration) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("http://minio.local/uploads/%s?X-Amz-Expires=%d", objectPath, int(expiry.Seconds())), nil
}

func TestAdminCreateCollection(t *testing.T) {
	reg := newTestRegistry(t, testConfig(), &fakeEmbedder{})
	svc := NewAdminService(reg, nil)
	ctx := context.Background()
	acme := model.TenantIdentity{OrganizationID: "acme"}

	info, err := svc.CreateCollection(ctx, acme)
	require.NoError(t, err)
	assert.True(t, info.Created)
	assert.Equal(t, "org-acme", info.Name)
	assert.Zero(t, info.PointsCount)

	info, err = svc.CreateCollection(ctx, acme)
	require.NoError(t, err)
	assert.False(t, info.Created)

	_, err = svc.CreateCollection(ctx, model.TenantIdentity{})
	assert.True(t, errs.Is(err, errs.KindInput))
}

func TestAdminStatsAndEvict(t *testing.T) {
	reg := newTestRegistry(t, testConfig(), &fakeEmbedder{})
	svc := NewAdminService(reg, nil)
	ctx := context.Background()

	for _, id := range []string{"globex", "acme"} {
		_, _, err := reg.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}
	stats := svc.RegistryStats()
	assert.Equal(t, 2, stats.TenantCount)
	assert.Equal(t, []string{"acme", "globex"}, stats.TenantIDs)
	assert.NotEmpty(t, stats.RegistryID)

	removed, err := svc.EvictTenant("acme")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.EvictTenant("acme")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, svc.RegistryStats().TenantCount)

	_, err = svc.EvictTenant("")
	assert.True(t, errs.Is(err, errs.KindInput))
}

func TestAdminBuckets(t *testing.T) {
	reg := newTestRegistry(t, testConfig(), &fakeEmbedder{})
	svc := NewAdminService(reg, &fakeBuckets{names: map[string]bool{"uploads": true}})
	ctx := context.Background()

	created, err := svc.CreateBucket(ctx, "archive")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = svc.CreateBucket(ctx, "uploads")
	require.NoError(t, err)
	assert.False(t, created)

	buckets, err := svc.ListBuckets(ctx)
	require.NoError(t, err)
	assert.Len(t, buckets, 2)

	_, err = NewAdminService(reg, nil).ListBuckets(ctx)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestGenerateUploadURL(t *testing.T) {
	svc := NewUploadService(fakePresigner{}, 30*time.Minute)
	ctx := context.Background()

	res, err := svc.GenerateUploadURL(ctx, model.TenantIdentity{OrganizationID: "acme", UserID: "u1"}, ".PDF")
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocID)
	assert.Equal(t, "acme/u1/"+res.DocID+".pdf", res.ObjectPath)
	assert.Equal(t, 1800, res.ExpiresIn)
	assert.True(t, strings.Contains(res.UploadURL, res.ObjectPath))

	res, err = svc.GenerateUploadURL(ctx, model.TenantIdentity{OrganizationID: "acme"}, "txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ObjectPath, "acme/shared/"))

	_, err = svc.GenerateUploadURL(ctx, model.TenantIdentity{OrganizationID: "acme"}, "../x")
	assert.True(t, errs.Is(err, errs.KindInput))

	_, err = NewUploadService(fakePresigner{err: errors.New("down")}, 0).GenerateUploadURL(ctx, model.TenantIdentity{OrganizationID: "acme"}, "txt")
	assert.True(t, errs.Is(err, errs.KindDownstream))
}
