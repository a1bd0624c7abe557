package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtCache(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB)`)
	require.NoError(t, err)

	sc := NewStmtCache(db)
	defer sc.Clear()

	query := `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`
	stmt1, err := sc.Prepare(query)
	assert.NoError(t, err)
	stmt2 := sc.MustPrepare(query)
	assert.Same(t, stmt1, stmt2)

	_, err = stmt1.Exec("k", []byte{0x01})
	assert.NoError(t, err)

	var value []byte
	err = sc.MustPrepare(`SELECT value FROM kv WHERE key = ?`).QueryRow("k").Scan(&value)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x01}, value)

	_, err = sc.Prepare(`SELECT nope FROM missing`)
	assert.Error(t, err)
}
