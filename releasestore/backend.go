package releasestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TEENet-io/pegout-federator/database"
)

// Backend persists the encoded index as a single blob.
// Load returns nil, nil when nothing has been saved yet.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileBackend keeps the blob in one file and replaces it atomically.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &FileBackend{path: path}, nil
}

func (fb *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(fb.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (fb *FileBackend) Save(data []byte) error {
	dir, base := filepath.Split(fb.path)
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fb.path)
}

func (fb *FileBackend) Path() string {
	return fb.path
}

const (
	blobTable = `CREATE TABLE IF NOT EXISTS kv (
		key VARCHAR(64) PRIMARY KEY NOT NULL,
		value BLOB NOT NULL
	);`

	releaseIndexKey = "release_index"
)

// SQLiteBackend keeps the blob in a single row of a kv table.
type SQLiteBackend struct {
	stmtCache *database.StmtCache
}

func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(blobTable); err != nil {
		return nil, err
	}

	return &SQLiteBackend{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (sb *SQLiteBackend) Load() ([]byte, error) {
	stmt, err := sb.stmtCache.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return nil, err
	}

	var value []byte
	if err := stmt.QueryRow(releaseIndexKey).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (sb *SQLiteBackend) Save(data []byte) error {
	stmt, err := sb.stmtCache.Prepare(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(releaseIndexKey, data)
	return err
}

func (sb *SQLiteBackend) Close() {
	sb.stmtCache.Clear()
}
