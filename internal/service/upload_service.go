package service

import (
	"context"
	"fmt"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 没有用户时对象路径中使用的占位段。
const sharedUserSegment = "shared"

var fileTypePattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)

// URLPresigner 生成对象的预签名上传地址。
type URLPresigner interface {
	PresignedPutURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}

// UploadURL 是预签名上传地址的响应。
type UploadURL struct {
	DocID      string `json:"doc_id"`
	ObjectPath string `json:"object_path"`
	UploadURL  string `json:"upload_url"`
	ExpiresIn  int    `json:"expires_in"`
}

// UploadService 为客户端直传对象存储生成上传地址。
type UploadService interface {
	GenerateUploadURL(ctx context.Context, identity model.TenantIdentity, fileType string) (*UploadURL, error)
}

type uploadService struct {
	presigner URLPresigner
	expiry    time.Duration
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(presigner URLPresigner, expiry time.Duration) UploadService {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &uploadService{presigner: presigner, expiry: expiry}
}

// GenerateUploadURL 分配新的 doc_id，对象路径为 <org>/<user>/<doc_id>.<type>。
func (s *uploadService) GenerateUploadURL(ctx context.Context, identity model.TenantIdentity, fileType string) (*UploadURL, error) {
	if !identity.Valid() {
		return nil, errs.Input("upload", "organization id is required")
	}
	fileType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
	if !fileTypePattern.MatchString(fileType) {
		return nil, errs.Input("upload", "invalid file type %q", fileType)
	}

	user := identity.UserID
	if user == "" {
		user = sharedUserSegment
	}
	docID := uuid.NewString()
	objectPath := fmt.Sprintf("%s/%s/%s.%s", identity.OrganizationID, user, docID, fileType)

	url, err := s.presigner.PresignedPutURL(ctx, objectPath, s.expiry)
	if err != nil {
		return nil, errs.Downstream("upload.presign", err).With("object_path", objectPath)
	}
	log.Infof("[UploadService] 已生成上传地址, doc_id: %s, object_path: %s", docID, objectPath)
	return &UploadURL{
		DocID:      docID,
		ObjectPath: objectPath,
		UploadURL:  url,
		ExpiresIn:  int(s.expiry.Seconds()),
	}, nil
}
