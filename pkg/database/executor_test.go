package database

import (
	"context"
	"path/filepath"
	"rag-tenant-go/internal/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Executor {
	t.Helper()
	db, err := OpenSQL(config.SQLConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT, amount REAL, note TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders (region, amount, note) VALUES ('EU', 10.5, 'a'), ('US', 20, NULL), ('EU', 7, 'c')`)
	require.NoError(t, err)
	return NewExecutor(db, 2, 5*time.Second)
}

func TestExecute(t *testing.T) {
	exec := openTestDB(t)
	res, err := exec.Execute(context.Background(), `SELECT region, SUM(amount) AS total FROM orders GROUP BY region ORDER BY region`)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "total"}, res.Columns)
	assert.Equal(t, [][]string{{"EU", "17.5"}, {"US", "20"}}, res.Rows)
	assert.False(t, res.Truncated)
}

func TestExecuteRowCapAndNull(t *testing.T) {
	exec := openTestDB(t)
	res, err := exec.Execute(context.Background(), `SELECT id, note FROM orders ORDER BY id`)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
	assert.Equal(t, "NULL", res.Rows[1][1])
}

func TestExecuteInvalidSQL(t *testing.T) {
	exec := openTestDB(t)
	_, err := exec.Execute(context.Background(), `SELECT * FROM missing_table`)
	assert.Error(t, err)
}

func TestOpenSQLUnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(config.SQLConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
