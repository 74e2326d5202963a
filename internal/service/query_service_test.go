package service

import (
	"context"
	"path/filepath"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/sqlguard"
	"rag-tenant-go/internal/tenant"
	"rag-tenant-go/pkg/database"
	"rag-tenant-go/pkg/llm"
	"rag-tenant-go/pkg/vectorstore"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	// gate 非空时每次调用都等待其关闭
	gate chan struct{}
}

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{1, float32(len(text)%7) + 1}, nil
}

func (e *fakeEmbedder) Model() string { return "fake-embedding" }

type fakeLLM struct {
	mu       sync.Mutex
	sqlReply string
	prompts  []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(prompt, "You are a SQL expert") {
		return f.sqlReply, nil
	}
	f.prompts = append(f.prompts, prompt)
	return "generated answer", nil
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, writer llm.MessageWriter) (string, error) {
	text, err := f.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := writer.WriteMessage(1, []byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeLLM) answerPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeExecutor struct {
	calls  atomic.Int32
	done   chan struct{}
	result *database.QueryResult
}

func (e *fakeExecutor) Execute(_ context.Context, _ string) (*database.QueryResult, error) {
	e.calls.Add(1)
	if e.done != nil {
		close(e.done)
	}
	return e.result, nil
}

type recordingWriter struct{ messages []string }

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.messages = append(w.messages, string(data))
	return nil
}

func newTestRegistry(t *testing.T, cfg config.Config, embedder *fakeEmbedder) *tenant.Registry {
	t.Helper()
	store, err := vectorstore.NewMemory(config.VectorStoreConfig{})
	require.NoError(t, err)
	reg, err := tenant.NewRegistry(cfg, store, embedder)
	require.NoError(t, err)
	return reg
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.VectorStore.Dimensions = 2
	cfg.SQL.Schema = "CREATE TABLE users (id INTEGER, name TEXT)"
	return cfg
}

func indexText(t *testing.T, reg *tenant.Registry, identity model.TenantIdentity, docID, text string) {
	t.Helper()
	_, p, err := reg.GetOrCreate(context.Background(), identity.OrganizationID)
	require.NoError(t, err)
	n, err := p.Run(context.Background(), []model.Document{{
		Content:  text,
		Metadata: map[string]string{model.MetaDocID: docID},
	}}, identity)
	require.NoError(t, err)
	require.Positive(t, n)
}

func TestParseTargets(t *testing.T) {
	set, err := ParseTargets([]string{"sql", "docstore"})
	require.NoError(t, err)
	assert.Equal(t, []string{TargetDocstore, TargetSQL}, set.Names())

	_, err = ParseTargets(nil)
	assert.True(t, errs.Is(err, errs.KindInput))

	_, err = ParseTargets([]string{"graph"})
	assert.True(t, errs.Is(err, errs.KindInput))
}

func TestExtractSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", ExtractSQL("here you go:\n```sql\nSELECT 1\n```\n"))
	assert.Equal(t, "SELECT *\nFROM t", ExtractSQL("```SQL\nSELECT *\nFROM t\n```"))
	assert.Empty(t, ExtractSQL("SELECT 1"))
}

func TestFormatSQLEvidenceCapsRows(t *testing.T) {
	res := &database.QueryResult{Columns: []string{"n"}}
	for i := 0; i < 30; i++ {
		res.Rows = append(res.Rows, []string{"x"})
	}
	text := FormatSQLEvidence(res)
	assert.True(t, strings.HasPrefix(text, "SQL Results:\nColumns: [n]\nRows: "))
	assert.Equal(t, sqlEvidenceRows, strings.Count(text, "[x]"))
	assert.True(t, strings.HasSuffix(text, "\n(truncated)"))

	small := &database.QueryResult{Columns: []string{"n"}, Rows: [][]string{{"1"}}}
	assert.Equal(t, "SQL Results:\nColumns: [n]\nRows: [[1]]", FormatSQLEvidence(small))

	small.Truncated = true
	assert.Equal(t, "SQL Results:\nColumns: [n]\nRows: [[1]]\n(truncated)", FormatSQLEvidence(small))
}

func TestQueryRejectsBadRequests(t *testing.T) {
	cfg := testConfig()
	emb := &fakeEmbedder{}
	svc := NewQueryService(newTestRegistry(t, cfg, emb), emb, &fakeLLM{}, sqlguard.New(nil), nil, cfg)
	acme := model.TenantIdentity{OrganizationID: "acme"}

	_, err := svc.Query(context.Background(), model.QueryRequest{Query: "q", Tenant: acme})
	assert.True(t, errs.Is(err, errs.KindInput))

	_, err = svc.Query(context.Background(), model.QueryRequest{Query: "  ", Targets: []string{"docstore"}, Tenant: acme})
	assert.True(t, errs.Is(err, errs.KindInput))

	_, err = svc.Query(context.Background(), model.QueryRequest{Query: "q", Targets: []string{"docstore"}})
	assert.True(t, errs.Is(err, errs.KindInput))

	_, err = svc.Query(context.Background(), model.QueryRequest{Query: "q", Targets: []string{"sql"}, Tenant: acme})
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestQueryDocstoreOnEmptyTenant(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Prompt.NoResultText = "(no context)"
	emb := &fakeEmbedder{}
	gen := &fakeLLM{}
	svc := NewQueryService(newTestRegistry(t, cfg, emb), emb, gen, sqlguard.New(nil), nil, cfg)

	ans, err := svc.Query(context.Background(), model.QueryRequest{
		Query:   "what is new?",
		Targets: []string{"docstore"},
		Tenant:  model.TenantIdentity{OrganizationID: "fresh"},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", ans.Answer)
	assert.Equal(t, 0, ans.EvidenceCount)

	prompts := gen.answerPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Context:\n(no context)")
	assert.Contains(t, prompts[0], "Question: what is new?")
}

func TestQueryJoinsRetrievalBeforeSQL(t *testing.T) {
	cfg := testConfig()
	emb := &fakeEmbedder{}
	reg := newTestRegistry(t, cfg, emb)
	acme := model.TenantIdentity{OrganizationID: "acme"}
	indexText(t, reg, acme, "doc-1", "retrieved passage about revenue")

	// SQL 分支先完成，检索分支在其之后才拿到向量
	exec := &fakeExecutor{
		done:   make(chan struct{}),
		result: &database.QueryResult{Columns: []string{"total"}, Rows: [][]string{{"42"}}},
	}
	emb.gate = exec.done
	gen := &fakeLLM{sqlReply: "```sql\nSELECT SUM(amount) AS total FROM orders\n```"}
	svc := NewQueryService(reg, emb, gen, sqlguard.New(nil), exec, cfg)

	ans, err := svc.Query(context.Background(), model.QueryRequest{
		Query:   "total revenue?",
		Targets: []string{"sql", "docstore"},
		Tenant:  acme,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TargetDocstore, TargetSQL}, ans.Targets)
	assert.Equal(t, 2, ans.EvidenceCount)

	prompt := gen.answerPrompts()[0]
	docAt := strings.Index(prompt, "retrieved passage about revenue")
	sqlAt := strings.Index(prompt, "SQL Results:\nColumns: [total]\nRows: [[42]]")
	require.NotEqual(t, -1, docAt)
	require.NotEqual(t, -1, sqlAt)
	assert.Less(t, docAt, sqlAt)
}

func TestQueryUnsafeSQLNeverExecutes(t *testing.T) {
	cfg := testConfig()
	emb := &fakeEmbedder{}
	exec := &fakeExecutor{result: &database.QueryResult{}}
	gen := &fakeLLM{sqlReply: "```sql\nDROP TABLE users\n```"}
	svc := NewQueryService(newTestRegistry(t, cfg, emb), emb, gen, sqlguard.New(nil), exec, cfg)

	_, err := svc.Query(context.Background(), model.QueryRequest{
		Query:   "remove everyone",
		Targets: []string{"sql"},
		Tenant:  model.TenantIdentity{OrganizationID: "acme"},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.EqualValues(t, 0, exec.calls.Load())
	assert.Empty(t, gen.answerPrompts())
}

func TestQueryMissingSQLFenceIsRejected(t *testing.T) {
	for _, reply := range []string{
		"I cannot answer that.",
		"```sql\n\n```",
		"```sql\n   \n```",
	} {
		cfg := testConfig()
		emb := &fakeEmbedder{}
		exec := &fakeExecutor{result: &database.QueryResult{}}
		gen := &fakeLLM{sqlReply: reply}
		svc := NewQueryService(newTestRegistry(t, cfg, emb), emb, gen, sqlguard.New(nil), exec, cfg)

		_, err := svc.Query(context.Background(), model.QueryRequest{
			Query:   "anything",
			Targets: []string{"sql"},
			Tenant:  model.TenantIdentity{OrganizationID: "acme"},
		})
		require.Error(t, err, reply)
		assert.True(t, errs.Is(err, errs.KindInput), reply)
		assert.Contains(t, err.Error(), "empty SQL candidate")
		assert.EqualValues(t, 0, exec.calls.Load())
	}
}

func TestQueryFilterByUser(t *testing.T) {
	for _, tc := range []struct {
		name         string
		filterByUser bool
		want         int
	}{
		{"organization only", false, 2},
		{"organization and user", true, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Retrieval.FilterByUser = tc.filterByUser
			emb := &fakeEmbedder{}
			reg := newTestRegistry(t, cfg, emb)
			indexText(t, reg, model.TenantIdentity{OrganizationID: "acme", UserID: "u1"}, "doc-a", "notes written by the first user")
			indexText(t, reg, model.TenantIdentity{OrganizationID: "acme", UserID: "u2"}, "doc-b", "notes written by the second user")

			svc := NewQueryService(reg, emb, &fakeLLM{}, sqlguard.New(nil), nil, cfg)
			ans, err := svc.Query(context.Background(), model.QueryRequest{
				Query:   "notes",
				Targets: []string{"docstore"},
				Tenant:  model.TenantIdentity{OrganizationID: "acme", UserID: "u1"},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ans.EvidenceCount)
		})
	}
}

func TestQueryTenantIsolation(t *testing.T) {
	cfg := testConfig()
	emb := &fakeEmbedder{}
	reg := newTestRegistry(t, cfg, emb)
	indexText(t, reg, model.TenantIdentity{OrganizationID: "acme"}, "doc-1", "acme secret roadmap")

	gen := &fakeLLM{}
	svc := NewQueryService(reg, emb, gen, sqlguard.New(nil), nil, cfg)
	ans, err := svc.Query(context.Background(), model.QueryRequest{
		Query:   "roadmap",
		Targets: []string{"docstore"},
		Tenant:  model.TenantIdentity{OrganizationID: "globex"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ans.EvidenceCount)
	assert.NotContains(t, gen.answerPrompts()[0], "acme secret roadmap")
}

func TestQuerySQLAgainstSQLite(t *testing.T) {
	db, err := database.OpenSQL(config.SQLConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "query.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (name) VALUES ('alice'), ('bob')`)
	require.NoError(t, err)

	cfg := testConfig()
	emb := &fakeEmbedder{}
	gen := &fakeLLM{sqlReply: "```sql\nSELECT name FROM users ORDER BY id\n```"}
	svc := NewQueryService(newTestRegistry(t, cfg, emb), emb, gen, sqlguard.New(nil),
		database.NewExecutor(db, 1000, 5*time.Second), cfg)

	writer := &recordingWriter{}
	ans, err := svc.Stream(context.Background(), model.QueryRequest{
		Query:   "who are the users?",
		Targets: []string{"sql"},
		Tenant:  model.TenantIdentity{OrganizationID: "acme"},
	}, writer)
	require.NoError(t, err)
	assert.Equal(t, 1, ans.EvidenceCount)
	assert.Equal(t, []string{"generated answer"}, writer.messages)
	assert.Contains(t, gen.answerPrompts()[0], "SQL Results:\nColumns: [name]\nRows: [[alice] [bob]]")
}
