// Package sqlguard 在生成的 SQL 接触数据库之前判定其是否只读且无注入特征。
//
// 校验分两层：规则层总是执行；语义层仅在配置了生成后端时执行，
// 其回复必须严格为 "SAFE: <reason>" 或 "UNSAFE: <reason>"，否则按不安全处理；
// 语义层调用失败时退回规则层的结论。
package sqlguard

import (
	"context"
	"fmt"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/pkg/llm"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"
	"regexp"
	"strings"
)

// 判定来源。
const (
	LayerRule     = "rule"
	LayerSemantic = "semantic"
)

// Verdict 是一次校验的结论，每次按当前 SQL 文本重新生成，不缓存。
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
	Layer  string `json:"layer"`
}

// Err 在结论不安全时返回 ValidationError。
func (v Verdict) Err() error {
	if v.Safe {
		return nil
	}
	return errs.Validation("sqlguard", "unsafe SQL: "+v.Reason).With("layer", v.Layer)
}

var (
	allowedVerbs = map[string]bool{
		"SELECT": true, "WITH": true, "SHOW": true, "DESCRIBE": true,
		"DESC": true, "EXPLAIN": true, "PRAGMA": true,
	}

	deniedKeywords = regexp.MustCompile(`\b(DROP|DELETE|UPDATE|INSERT|TRUNCATE|ALTER|CREATE|REPLACE|MERGE|UPSERT|ATTACH|DETACH|VACUUM|REINDEX|ANALYZE)\b`)

	mutatingVerbs = `(DROP|DELETE|UPDATE|INSERT|TRUNCATE|ALTER|CREATE|REPLACE|MERGE|UPSERT|ATTACH|DETACH|GRANT|REVOKE|EXEC|EXECUTE)`

	firstToken        = regexp.MustCompile(`^[\s(]*([A-Z]+)`)
	whitespace        = regexp.MustCompile(`\s+`)
	separatorInject   = regexp.MustCompile(`;\s*` + mutatingVerbs + `\b`)
	blockCommentVerb  = regexp.MustCompile(`(?s)/\*.*?\b` + mutatingVerbs + `\b.*?\*/`)
	lineCommentVerb   = regexp.MustCompile(`(--|#)[^\n]*\b` + mutatingVerbs + `\b`)
	storedProcedure   = regexp.MustCompile(`\b(EXEC|EXECUTE)\b|\b(XP|SP)_\w+`)
	numericTautology  = regexp.MustCompile(`\bOR\s+(\d+)\s*=\s*(\d+)`)
	stringTautology   = regexp.MustCompile(`\bOR\s+'([^']*)'\s*=\s*'([^']*)'`)
	booleanTautology  = regexp.MustCompile(`\bOR\s+TRUE\b`)
	quoteBreakout     = regexp.MustCompile(`'\s*\)?\s*UNION\s+(ALL\s+)?SELECT\b`)
	semanticVerdictRe = regexp.MustCompile(`^(SAFE|UNSAFE):(.*)$`)
)

const semanticPrompt = `You are a SQL security auditor. Decide whether the SQL query below is safe to run against a production database.
A query is SAFE only if it is strictly read-only, cannot modify data, schema or permissions, and shows no sign of injection.
Answer with exactly one line, either "SAFE: <reason>" or "UNSAFE: <reason>".

SQL:
%s`

// Validator 是两层 SQL 安全校验器。生成和执行前两处调用共用同一实例。
type Validator struct {
	gen llm.Generator
}

// New 创建校验器；gen 为 nil 时只执行规则层。
func New(gen llm.Generator) *Validator {
	return &Validator{gen: gen}
}

// IsSafe 对 SQL 执行两层校验。
func (v *Validator) IsSafe(ctx context.Context, sql string) Verdict {
	verdict := CheckRules(sql)
	if !verdict.Safe || v.gen == nil {
		record(verdict)
		return verdict
	}

	reply, err := v.gen.Generate(ctx, fmt.Sprintf(semanticPrompt, sql))
	if err != nil {
		log.Warnf("[SQLGuard] 语义校验调用失败, 退回规则层结论: %v", err)
		record(verdict)
		return verdict
	}
	semantic := ParseSemanticVerdict(reply)
	record(semantic)
	return semantic
}

func record(v Verdict) {
	label := "unsafe"
	if v.Safe {
		label = "safe"
	}
	monitoring.SQLVerdicts.WithLabelValues(v.Layer, label).Inc()
}

// ParseSemanticVerdict 解析语义层回复，任何不符合格式的回复都视为不安全。
func ParseSemanticVerdict(reply string) Verdict {
	m := semanticVerdictRe.FindStringSubmatch(strings.TrimSpace(reply))
	if m == nil {
		return Verdict{Safe: false, Reason: "ambiguous semantic verdict", Layer: LayerSemantic}
	}
	reason := strings.TrimSpace(m[2])
	if reason == "" {
		reason = "no reason given"
	}
	return Verdict{Safe: m[1] == "SAFE", Reason: reason, Layer: LayerSemantic}
}

func unsafe(reason string) Verdict {
	return Verdict{Safe: false, Reason: reason, Layer: LayerRule}
}

// CheckRules 执行规则层校验。
// 字面量按 SQL 标准与反斜杠转义两种方式分别解析，任一解析结果不通过即判为不安全。
func CheckRules(sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return unsafe("empty SQL")
	}
	upper := strings.ToUpper(sql)
	for _, backslash := range []bool{false, true} {
		if v := checkMasked(upper, backslash); !v.Safe {
			return v
		}
	}
	if isTautology(upper) {
		return unsafe("tautology injection pattern")
	}
	if quoteBreakout.MatchString(upper) {
		return unsafe("quote breakout UNION SELECT")
	}
	return Verdict{Safe: true, Reason: "passed rule-based checks", Layer: LayerRule}
}

func checkMasked(upper string, backslashEscapes bool) Verdict {
	masked, closed := maskLiterals(upper, backslashEscapes)
	if !closed {
		return unsafe("unterminated string literal")
	}
	normalized := strings.TrimSpace(whitespace.ReplaceAllString(masked, " "))

	m := firstToken.FindStringSubmatch(normalized)
	if m == nil || !allowedVerbs[m[1]] {
		return unsafe("statement must start with a read-only verb")
	}
	if separatorInject.MatchString(normalized) {
		return unsafe("statement separator followed by a mutating verb")
	}
	if blockCommentVerb.MatchString(masked) || lineCommentVerb.MatchString(masked) {
		return unsafe("mutating verb hidden in a comment")
	}
	if storedProcedure.MatchString(normalized) {
		return unsafe("stored procedure invocation")
	}
	if kw := deniedKeywords.FindString(normalized); kw != "" {
		return unsafe("forbidden keyword " + kw)
	}
	return Verdict{Safe: true, Layer: LayerRule}
}

func isTautology(upper string) bool {
	if booleanTautology.MatchString(upper) {
		return true
	}
	for _, m := range numericTautology.FindAllStringSubmatch(upper, -1) {
		if m[1] == m[2] {
			return true
		}
	}
	for _, m := range stringTautology.FindAllStringSubmatch(upper, -1) {
		if m[1] == m[2] {
			return true
		}
	}
	return false
}

// maskLiterals 清空单双引号字面量的内容，保留引号本身；总是支持 '' 与 "" 转义，
// backslashEscapes 为 true 时额外按 MySQL 的方式把反斜杠后的字符视为转义。
// 第二个返回值为 false 表示存在未闭合的字面量。
func maskLiterals(s string, backslashEscapes bool) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	var quote rune
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote == 0 {
			if r == '\'' || r == '"' {
				quote = r
			}
			b.WriteRune(r)
			continue
		}
		if backslashEscapes && r == '\\' {
			i++
			continue
		}
		if r == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				i++
				continue
			}
			quote = 0
			b.WriteRune(r)
		}
	}
	return b.String(), quote == 0
}
