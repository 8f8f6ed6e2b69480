package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriver keeps each store in its own file, <dir>/<name>.db.
type SQLiteDriver struct {
	Dir string
}

// NewSQLiteDriver stores tenant files under dir.
func NewSQLiteDriver(dir string) *SQLiteDriver {
	return &SQLiteDriver{Dir: dir}
}

func (d *SQLiteDriver) Dialect() Dialect { return DialectSQLite }

// Path returns the file backing a store.
func (d *SQLiteDriver) Path(name string) string {
	return filepath.Join(d.Dir, name+".db")
}

func (d *SQLiteDriver) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(d.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *SQLiteDriver) Create(ctx context.Context, name string) error {
	exists, err := d.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("sqlite store %s already exists", name)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	db, err := d.Open(ctx, name)
	if err != nil {
		return err
	}
	return db.Close()
}

func (d *SQLiteDriver) Open(ctx context.Context, name string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", d.Path(name))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// a single writer connection avoids SQLITE_BUSY between goroutines
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *SQLiteDriver) Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
