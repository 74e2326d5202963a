// Package model 定义了索引与查询流程中共享的数据结构。
package model

import "strings"

// TenantIdentity 标识一次请求所属的租户。OrganizationID 必填，UserID 可选。
type TenantIdentity struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id,omitempty"`
}

// Valid 判断组织标识是否存在。
func (t TenantIdentity) Valid() bool {
	return strings.TrimSpace(t.OrganizationID) != ""
}

// Stamp 将租户身份写入元数据。
func (t TenantIdentity) Stamp(meta map[string]string) {
	meta[MetaOrganizationID] = t.OrganizationID
	if t.UserID != "" {
		meta[MetaUserID] = t.UserID
	}
}
