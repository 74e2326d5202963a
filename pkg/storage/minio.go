// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketInfo 描述一个存储桶。
type BucketInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ObjectStore 封装了 MinIO 客户端与默认存储桶。
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewMinIO 初始化 MinIO 客户端并确保默认存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	s := &ObjectStore{client: client, bucket: cfg.BucketName}
	if _, err := s.EnsureBucket(ctx, cfg.BucketName); err != nil {
		return nil, err
	}
	return s, nil
}

// Bucket 返回默认存储桶名。
func (s *ObjectStore) Bucket() string { return s.bucket }

// EnsureBucket 检查存储桶是否存在，不存在则创建，返回本次是否新建。
func (s *ObjectStore) EnsureBucket(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", name)
		return false, nil
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", name)
	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		return false, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	log.Infof("存储桶 '%s' 创建成功", name)
	return true, nil
}

// ListBuckets 列出全部存储桶。
func (s *ObjectStore) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("列出存储桶失败: %w", err)
	}
	out := make([]BucketInfo, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, BucketInfo{Name: b.Name, CreatedAt: b.CreationDate})
	}
	return out, nil
}

// DownloadToFile 将默认存储桶中的对象下载到本地文件。
func (s *ObjectStore) DownloadToFile(ctx context.Context, objectPath, filePath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, objectPath, filePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("从 MinIO 下载对象 '%s' 失败: %w", objectPath, err)
	}
	return nil
}

// PresignedPutURL 生成对象的预签名上传地址。
func (s *ObjectStore) PresignedPutURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectPath, expiry)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", fmt.Errorf("生成预签名上传地址失败: %w", err)
	}
	return u.String(), nil
}

// UploadFile 将本地文件上传到默认存储桶。
func (s *ObjectStore) UploadFile(ctx context.Context, objectPath, filePath string) error {
	if _, err := s.client.FPutObject(ctx, s.bucket, objectPath, filePath, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("上传对象 '%s' 到 MinIO 失败: %w", objectPath, err)
	}
	return nil
}
