package connection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresDriver keeps each store in its own database on one server. DSN
// points at an administrative database used to create tenant databases.
type PostgresDriver struct {
	DSN string
}

func NewPostgresDriver(dsn string) *PostgresDriver {
	return &PostgresDriver{DSN: dsn}
}

func (d *PostgresDriver) Dialect() Dialect { return DialectPostgres }

func (d *PostgresDriver) config(database string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(d.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if database != "" {
		cfg.Database = database
	}
	return cfg, nil
}

func (d *PostgresDriver) admin(ctx context.Context) (*sql.DB, error) {
	cfg, err := d.config("")
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *PostgresDriver) Exists(ctx context.Context, name string) (bool, error) {
	db, err := d.admin(ctx)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var found int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pg_database WHERE datname = $1`, name).Scan(&found)
	if err != nil {
		return false, err
	}
	return found > 0, nil
}

func (d *PostgresDriver) Create(ctx context.Context, name string) error {
	db, err := d.admin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	// CREATE DATABASE fails on an existing name, which is what callers expect
	_, err = db.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	return err
}

func (d *PostgresDriver) Open(ctx context.Context, name string) (*sql.DB, error) {
	cfg, err := d.config(name)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *PostgresDriver) Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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
