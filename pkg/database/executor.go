package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// QueryResult 是一次只读查询的结果，单元格统一转为字符串。
type QueryResult struct {
	Columns   []string
	Rows      [][]string
	Truncated bool
}

// Executor 在结构化后端上执行已通过校验的 SQL。
type Executor struct {
	db      *sql.DB
	maxRows int
	timeout time.Duration
}

// NewExecutor 创建执行器；maxRows 为返回行数上限，timeout 为单条查询的超时时间。
func NewExecutor(db *sql.DB, maxRows int, timeout time.Duration) *Executor {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Executor{db: db, maxRows: maxRows, timeout: timeout}
}

// Execute 执行查询，超出行数上限的部分被丢弃并标记 Truncated。
func (e *Executor) Execute(ctx context.Context, query string) (*QueryResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("执行 SQL 失败: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取列信息失败: %w", err)
	}
	result := &QueryResult{Columns: cols}

	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("读取结果行失败: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = cellString(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败: %w", err)
	}
	return result, nil
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
