package model

// QueryRequest 是一次问答请求。
type QueryRequest struct {
	Query   string         `json:"query"`
	Targets []string       `json:"targets"`
	Tenant  TenantIdentity `json:"tenant"`
}

// QueryAnswer 是问答结果。
type QueryAnswer struct {
	Answer        string `json:"answer"`
	EvidenceCount int    `json:"evidence_count"`
	// Targets 是实际激活的分支，按拼接顺序排列。
	Targets []string `json:"targets"`
}
