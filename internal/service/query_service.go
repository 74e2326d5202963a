// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/pipeline"
	"rag-tenant-go/internal/sqlguard"
	"rag-tenant-go/internal/tenant"
	"rag-tenant-go/pkg/database"
	"rag-tenant-go/pkg/llm"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"
	"rag-tenant-go/pkg/tracing"
	"rag-tenant-go/pkg/vectorstore"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// 查询目标。
const (
	TargetDocstore = "docstore"
	TargetSQL      = "sql"
)

// DefaultPromptTemplate 是回答生成的默认模板，{context} 与 {query} 会被替换。
const DefaultPromptTemplate = "Based on the following information, please answer the question:\n\nContext:\n{context}\n\nQuestion: {query}\n\nAnswer:"

const sqlGenerationPrompt = "You are a SQL expert. Given the following database schema, generate ONE valid SQL query to answer the user's question.\n\nSchema:\n%s\n\nQuestion: %s\n\nReturn only the SQL inside ```sql ... ```."

// SQL 结果证据中最多展示的行数。
const sqlEvidenceRows = 20

var sqlFence = regexp.MustCompile("(?is)```sql\\s+(.*?)```")

// TargetSet 是解析后的查询目标集合，至少包含一个分支。
type TargetSet struct {
	Docstore bool
	SQL      bool
}

// Names 按拼接顺序返回激活的分支。
func (t TargetSet) Names() []string {
	var out []string
	if t.Docstore {
		out = append(out, TargetDocstore)
	}
	if t.SQL {
		out = append(out, TargetSQL)
	}
	return out
}

// ParseTargets 将请求中的目标列表解析为集合。空列表与未知目标都是输入错误。
func ParseTargets(targets []string) (TargetSet, error) {
	var set TargetSet
	for _, raw := range targets {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case TargetDocstore:
			set.Docstore = true
		case TargetSQL:
			set.SQL = true
		default:
			return TargetSet{}, errs.Input("query.targets", "unknown query target %q", raw)
		}
	}
	if !set.Docstore && !set.SQL {
		return TargetSet{}, errs.Input("query.targets", "at least one query target is required")
	}
	return set, nil
}

// ExtractSQL 从生成结果的 ```sql 代码块中取出 SQL，没有代码块时返回空串。
func ExtractSQL(reply string) string {
	m := sqlFence.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// FormatSQLEvidence 将查询结果包装为一段证据文本。
func FormatSQLEvidence(res *database.QueryResult) string {
	rows := res.Rows
	truncated := res.Truncated
	if len(rows) > sqlEvidenceRows {
		rows = rows[:sqlEvidenceRows]
		truncated = true
	}
	text := fmt.Sprintf("SQL Results:\nColumns: %v\nRows: %v", res.Columns, rows)
	if truncated {
		text += "\n(truncated)"
	}
	return text
}

// SQLExecutor 在结构化后端执行只读 SQL。
type SQLExecutor interface {
	Execute(ctx context.Context, query string) (*database.QueryResult, error)
}

// QueryService 定义了问答路由的接口。
type QueryService interface {
	Query(ctx context.Context, req model.QueryRequest) (*model.QueryAnswer, error)
	// Stream 与 Query 走相同的分支，回答通过 writer 流式下发。
	Stream(ctx context.Context, req model.QueryRequest, writer llm.MessageWriter) (*model.QueryAnswer, error)
}

type queryService struct {
	registry  *tenant.Registry
	embedder  pipeline.Embedder
	llmClient llm.Client
	validator *sqlguard.Validator
	executor  SQLExecutor
	retrieval config.RetrievalConfig
	schema    string
	prompt    config.LLMPromptConfig
}

// NewQueryService 创建一个新的 QueryService 实例。executor 为 nil 时 sql 目标不可用。
func NewQueryService(
	registry *tenant.Registry,
	embedder pipeline.Embedder,
	llmClient llm.Client,
	validator *sqlguard.Validator,
	executor SQLExecutor,
	cfg config.Config,
) QueryService {
	return &queryService{
		registry:  registry,
		embedder:  embedder,
		llmClient: llmClient,
		validator: validator,
		executor:  executor,
		retrieval: cfg.Retrieval,
		schema:    cfg.SQL.Schema,
		prompt:    cfg.LLM.Prompt,
	}
}

// Query 执行激活的分支，拼接证据并调用一次生成。
func (s *queryService) Query(ctx context.Context, req model.QueryRequest) (answer *model.QueryAnswer, err error) {
	ctx, span := tracing.Start(ctx, "QueryService.Query", attribute.String("organization_id", req.Tenant.OrganizationID))
	defer func() { tracing.End(span, err) }()

	prompt, out, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.observe(out.Targets, time.Now(), &err)

	text, err := s.llmClient.Generate(ctx, prompt)
	if err != nil {
		log.Errorf("[QueryService] 生成回答失败, organization: %s, error: %v", req.Tenant.OrganizationID, err)
		return nil, errs.Downstream("query.generate", err).With("organization_id", req.Tenant.OrganizationID)
	}
	out.Answer = text
	return out, nil
}

// Stream 执行激活的分支后流式生成回答。
func (s *queryService) Stream(ctx context.Context, req model.QueryRequest, writer llm.MessageWriter) (answer *model.QueryAnswer, err error) {
	ctx, span := tracing.Start(ctx, "QueryService.Stream", attribute.String("organization_id", req.Tenant.OrganizationID))
	defer func() { tracing.End(span, err) }()

	prompt, out, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.observe(out.Targets, time.Now(), &err)

	text, err := s.llmClient.Stream(ctx, prompt, writer)
	if err != nil {
		log.Errorf("[QueryService] 流式生成回答失败, organization: %s, error: %v", req.Tenant.OrganizationID, err)
		return nil, errs.Downstream("query.stream", err).With("organization_id", req.Tenant.OrganizationID)
	}
	out.Answer = text
	return out, nil
}

func (s *queryService) observe(targets []string, start time.Time, errp *error) {
	label := strings.Join(targets, "+")
	status := "ok"
	if *errp != nil {
		status = "error"
	}
	monitoring.QueryTotal.WithLabelValues(label, status).Inc()
	monitoring.QueryDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// prepare 校验请求，并发执行分支，按检索在前、SQL 在后的顺序拼接证据并构建提示。
func (s *queryService) prepare(ctx context.Context, req model.QueryRequest) (string, *model.QueryAnswer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", nil, errs.Input("query", "query text is required")
	}
	if !req.Tenant.Valid() {
		return "", nil, errs.Input("query", "organization id is required")
	}
	targets, err := ParseTargets(req.Targets)
	if err != nil {
		return "", nil, err
	}
	if targets.SQL && s.executor == nil {
		return "", nil, errs.Configuration("query", "structured backend is not configured")
	}
	log.Infof("[QueryService] 开始处理查询, organization: %s, targets: %v", req.Tenant.OrganizationID, targets.Names())

	var retrieved, structured []model.Document
	g, gctx := errgroup.WithContext(ctx)
	if targets.Docstore {
		g.Go(func() error {
			docs, err := s.retrieve(gctx, query, req.Tenant)
			retrieved = docs
			return err
		})
	}
	if targets.SQL {
		g.Go(func() error {
			docs, err := s.structured(gctx, query, req.Tenant)
			structured = docs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	evidence := make([]model.Document, 0, len(retrieved)+len(structured))
	evidence = append(evidence, retrieved...)
	evidence = append(evidence, structured...)
	log.Infof("[QueryService] 分支执行完成, retrieved: %d, structured: %d", len(retrieved), len(structured))

	return s.buildPrompt(query, evidence), &model.QueryAnswer{
		EvidenceCount: len(evidence),
		Targets:       targets.Names(),
	}, nil
}

// retrieve 在租户集合中检索，始终按组织过滤，按用户过滤由配置决定。
func (s *queryService) retrieve(ctx context.Context, query string, identity model.TenantIdentity) ([]model.Document, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, errs.Downstream("query.retrieve.embed", err).With("organization_id", identity.OrganizationID)
	}
	coll, _, err := s.registry.GetOrCreate(ctx, identity.OrganizationID)
	if err != nil {
		return nil, err
	}

	filter := vectorstore.Filter{model.MetaOrganizationID: identity.OrganizationID}
	if s.retrieval.FilterByUser && identity.UserID != "" {
		filter[model.MetaUserID] = identity.UserID
	}
	topK := s.retrieval.TopK
	if topK <= 0 {
		topK = 10
	}
	hits, err := coll.Search(ctx, vector, topK, filter)
	if err != nil {
		return nil, errs.Downstream("query.retrieve.search", err).
			With("organization_id", identity.OrganizationID).
			With("collection", coll.Name())
	}
	docs := make([]model.Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, model.Document{Content: h.Content, Metadata: h.Metadata})
	}
	return docs, nil
}

// structured 生成 SQL，执行前经过两次校验，结果包装为一条证据。
func (s *queryService) structured(ctx context.Context, query string, identity model.TenantIdentity) ([]model.Document, error) {
	reply, err := s.llmClient.Generate(ctx, fmt.Sprintf(sqlGenerationPrompt, s.schema, query))
	if err != nil {
		return nil, errs.Downstream("query.sql.generate", err).With("organization_id", identity.OrganizationID)
	}
	sql := ExtractSQL(reply)
	if sql == "" {
		log.Warnf("[QueryService] 生成结果中没有可用的 SQL 代码块")
		return nil, errs.Input("query.sql.extract", "empty SQL candidate").With("organization_id", identity.OrganizationID)
	}
	log.Infof("[QueryService] 生成 SQL: %s", sql)

	if v := s.validator.IsSafe(ctx, sql); !v.Safe {
		log.Warnf("[QueryService] 生成的 SQL 未通过校验, layer: %s, reason: %s", v.Layer, v.Reason)
		return nil, v.Err()
	}
	// 执行前再次校验
	if v := s.validator.IsSafe(ctx, sql); !v.Safe {
		log.Warnf("[QueryService] SQL 执行前校验未通过, layer: %s, reason: %s", v.Layer, v.Reason)
		return nil, v.Err()
	}

	res, err := s.executor.Execute(ctx, sql)
	if err != nil {
		return nil, errs.Downstream("query.sql.execute", err).With("organization_id", identity.OrganizationID)
	}
	return []model.Document{{
		Content:  FormatSQLEvidence(res),
		Metadata: map[string]string{model.MetaSource: TargetSQL},
	}}, nil
}

func (s *queryService) buildPrompt(query string, evidence []model.Document) string {
	tmpl := s.prompt.Template
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}
	var b strings.Builder
	for _, d := range evidence {
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	contextText := b.String()
	if len(evidence) == 0 && s.prompt.NoResultText != "" {
		contextText = s.prompt.NoResultText
	}
	return strings.NewReplacer("{context}", contextText, "{query}", query).Replace(tmpl)
}
