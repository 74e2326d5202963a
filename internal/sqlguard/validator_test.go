package sqlguard

import (
	"context"
	"errors"
	"rag-tenant-go/internal/errs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

func TestCheckRules(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		safe bool
	}{
		{"simple select", "SELECT id, name FROM users WHERE region = 'EU'", true},
		{"lowercase select", "select count(*) from orders", true},
		{"cte", "WITH t AS (SELECT 1 AS x) SELECT x FROM t", true},
		{"parenthesized select", "(SELECT 1)", true},
		{"show", "SHOW TABLES", true},
		{"describe", "DESCRIBE users", true},
		{"desc", "DESC users", true},
		{"explain", "EXPLAIN SELECT * FROM users", true},
		{"pragma", "PRAGMA table_info(users)", true},
		{"keyword inside literal", "SELECT name FROM users WHERE note = 'please DROP TABLE later'", true},
		{"escaped quote in literal", "SELECT name FROM users WHERE note = 'it''s DELETE day'", true},
		{"column containing keyword", "SELECT created_at, updated_at FROM users", true},
		{"order by desc", "SELECT name FROM users ORDER BY name DESC", true},
		{"backslash in literal", `SELECT name FROM files WHERE path = 'C:\\tmp'`, true},
		{"escaped backslash", `SELECT '\\' AS sep FROM t`, true},

		{"empty", "", false},
		{"blank", "   \n\t", false},
		{"delete", "DELETE FROM users", false},
		{"update", "UPDATE users SET name = 'x'", false},
		{"insert", "INSERT INTO users VALUES (1)", false},
		{"drop", "DROP TABLE users", false},
		{"leading comment", "-- hi\nSELECT 1", false},
		{"separator injection", "SELECT * FROM t; DROP TABLE t;", false},
		{"separator injection lowercase", "select * from t;delete from t", false},
		{"cte with delete", "WITH x AS (DELETE FROM t RETURNING *) SELECT * FROM x", false},
		{"block comment verb", "SELECT 1 /* DROP TABLE t */", false},
		{"line comment verb", "SELECT 1 -- then TRUNCATE t", false},
		{"stored procedure exec", "SELECT 1 EXEC sp_who", false},
		{"xp marker", "SELECT xp_cmdshell('dir')", false},
		{"numeric tautology", "SELECT * FROM users WHERE id = 5 OR 1=1", false},
		{"string tautology", "SELECT * FROM users WHERE name = 'x' OR 'a'='a'", false},
		{"boolean tautology", "SELECT * FROM users WHERE name = 'x' OR TRUE", false},
		{"quote breakout union", "SELECT * FROM users WHERE name = '' UNION SELECT password FROM admins", false},
		{"attach", "SELECT 1; ATTACH DATABASE 'x.db' AS x", false},
		{"replace function denied", "SELECT REPLACE(name, 'a', 'b') FROM users", false},
		{"explain analyze", "EXPLAIN ANALYZE SELECT 1", false},
		{"unterminated literal hides verb", "SELECT 'abc; DROP TABLE t", false},
		{"grant", "GRANT ALL ON users TO bob", false},
		{"backslash quote hides separator", `SELECT '\'', 1; DROP TABLE users; -- '`, false},
		{"backslash double quote hides separator", `SELECT "\"", 1; DELETE FROM users; -- "`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckRules(tt.sql)
			assert.Equal(t, tt.safe, v.Safe, "reason: %s", v.Reason)
			assert.Equal(t, LayerRule, v.Layer)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestFirstTokenOutsideAllowListIsUnsafe(t *testing.T) {
	for _, verb := range []string{"CALL", "SET", "LOAD", "COPY", "BEGIN", "COMMIT", "USE", "VALUES", "LOCK", "HANDLER"} {
		v := CheckRules(verb + " something")
		assert.False(t, v.Safe, verb)
	}
}

func TestParseSemanticVerdict(t *testing.T) {
	tests := []struct {
		reply  string
		safe   bool
		reason string
	}{
		{"SAFE: read only aggregate", true, "read only aggregate"},
		{"  UNSAFE: modifies data \n", false, "modifies data"},
		{"SAFE:", true, "no reason given"},
		{"safe: lowercase", false, "ambiguous semantic verdict"},
		{"The query is SAFE: yes", false, "ambiguous semantic verdict"},
		{"SAFE: ok\nUNSAFE: actually not", false, "ambiguous semantic verdict"},
		{"", false, "ambiguous semantic verdict"},
	}
	for _, tt := range tests {
		v := ParseSemanticVerdict(tt.reply)
		assert.Equal(t, tt.safe, v.Safe, tt.reply)
		assert.Equal(t, tt.reason, v.Reason, tt.reply)
		assert.Equal(t, LayerSemantic, v.Layer)
	}
}

func TestIsSafeSemanticLayer(t *testing.T) {
	ctx := context.Background()

	gen := &fakeGenerator{reply: "UNSAFE: exfiltrates credentials"}
	v := New(gen).IsSafe(ctx, "SELECT password FROM admins")
	assert.False(t, v.Safe)
	assert.Equal(t, LayerSemantic, v.Layer)
	assert.Contains(t, gen.prompt, "SELECT password FROM admins")

	gen = &fakeGenerator{reply: "SAFE: read only"}
	v = New(gen).IsSafe(ctx, "SELECT 1")
	assert.True(t, v.Safe)
	assert.Equal(t, LayerSemantic, v.Layer)

	gen = &fakeGenerator{reply: "probably fine"}
	assert.False(t, New(gen).IsSafe(ctx, "SELECT 1").Safe)
}

func TestIsSafeSkipsSemanticWhenRulesReject(t *testing.T) {
	gen := &fakeGenerator{reply: "SAFE: trust me"}
	v := New(gen).IsSafe(context.Background(), "DROP TABLE t")
	assert.False(t, v.Safe)
	assert.Equal(t, LayerRule, v.Layer)
	assert.Zero(t, gen.calls)
}

func TestIsSafeFallsBackOnGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	v := New(gen).IsSafe(context.Background(), "SELECT 1")
	assert.True(t, v.Safe)
	assert.Equal(t, LayerRule, v.Layer)
	assert.Equal(t, 1, gen.calls)
}

func TestIsSafeWithoutGenerator(t *testing.T) {
	v := New(nil).IsSafe(context.Background(), "SELECT 1")
	assert.True(t, v.Safe)
	assert.Equal(t, LayerRule, v.Layer)
}

func TestVerdictErr(t *testing.T) {
	assert.NoError(t, Verdict{Safe: true}.Err())
	err := CheckRules("DELETE FROM t").Err()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestMaskLiterals(t *testing.T) {
	masked, closed := maskLiterals(`SELECT 'a''b', "c" FROM t`, false)
	assert.True(t, closed)
	assert.Equal(t, `SELECT '', "" FROM t`, masked)

	_, closed = maskLiterals(`SELECT 'open`, false)
	assert.False(t, closed)

	// 同一文本在两种转义规则下的边界不同
	masked, closed = maskLiterals(`SELECT 'a\', 'b'`, false)
	assert.True(t, closed)
	assert.Equal(t, `SELECT '', ''`, masked)
	_, closed = maskLiterals(`SELECT 'a\', 'b'`, true)
	assert.False(t, closed)
}
