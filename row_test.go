package websqlite3

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "rows.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRowsFromSQLAndValueKinds(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE t (
		i INTEGER, f REAL, s TEXT, b BLOB, n TEXT
	)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t VALUES (?, ?, ?, ?, ?)`,
		42, 3.14, "hello", []byte{0x01, 0x02}, nil)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, "SELECT i, f, s, b, n FROM t")
	require.NoError(t, err)

	got, err := rowsFromSQL(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)

	row := got[0]
	iv, ok := row.Get("i")
	require.True(t, ok)
	require.Equal(t, KindInt, iv.Kind)
	require.Equal(t, int64(42), iv.Int)

	fv, ok := row.Get("f")
	require.True(t, ok)
	require.Equal(t, KindFloat, fv.Kind)
	require.InDelta(t, 3.14, fv.Float, 0.0001)

	sv, ok := row.Get("s")
	require.True(t, ok)
	require.Equal(t, KindText, sv.Kind)
	require.Equal(t, "hello", sv.Text)

	bv, ok := row.Get("b")
	require.True(t, ok)
	require.Equal(t, KindBlob, bv.Kind)
	require.Equal(t, []byte{0x01, 0x02}, bv.Blob)

	nv, ok := row.Get("n")
	require.True(t, ok)
	require.Equal(t, KindNull, nv.Kind)

	_, ok = row.Get("missing")
	require.False(t, ok)
}

func TestDuplicateColumnNameLastWins(t *testing.T) {
	row := Row{Columns: []Column{
		{Name: "x", Value: Value{Kind: KindInt, Int: 1}},
		{Name: "x", Value: Value{Kind: KindInt, Int: 2}},
	}}
	v, ok := row.Get("x")
	require.True(t, ok)
	require.Equal(t, int64(2), v.Int)
}

func TestFirstRowFromSQLNoRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE empty (id INTEGER)")
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, "SELECT id FROM empty")
	require.NoError(t, err)

	row, found, err := firstRowFromSQL(rows)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, Row{}, row)
}

func TestFirstRowFromSQLOnlyReadsOneRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	for _, v := range []int{1, 2, 3} {
		_, err := db.ExecContext(ctx, "INSERT INTO t VALUES (?)", v)
		require.NoError(t, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT v FROM t ORDER BY v")
	require.NoError(t, err)

	row, found, err := firstRowFromSQL(rows)
	require.NoError(t, err)
	require.True(t, found)
	v, _ := row.Get("v")
	require.Equal(t, int64(1), v.Int)
}
