package tenant

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/connection"
)

// Directory finds tenant records by id.
type Directory interface {
	Lookup(ctx context.Context, id string) (pipeline.Tenant, error)
	List(ctx context.Context) ([]pipeline.Tenant, error)
	Register(ctx context.Context, tenant pipeline.Tenant) error
}

// MemoryDirectory keeps tenants in a map.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]pipeline.Tenant
}

func NewMemoryDirectory(tenants ...pipeline.Tenant) *MemoryDirectory {
	d := &MemoryDirectory{tenants: make(map[string]pipeline.Tenant, len(tenants))}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

func (d *MemoryDirectory) Lookup(_ context.Context, id string) (pipeline.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[strings.TrimSpace(id)]
	if !ok {
		return pipeline.Tenant{}, pipeline.NewNotFoundError("tenant", id)
	}
	return t, nil
}

func (d *MemoryDirectory) List(context.Context) ([]pipeline.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]pipeline.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) Register(_ context.Context, tenant pipeline.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[tenant.ID] = tenant
	return nil
}

// Remove drops a tenant record.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, id)
}

// SQLDirectory keeps tenants in the shared landlord store.
type SQLDirectory struct {
	handle *connection.Handle
}

const tenantsDDL = `CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`

// NewSQLDirectory ensures the tenants table exists in the landlord store.
func NewSQLDirectory(ctx context.Context, handle *connection.Handle) (*SQLDirectory, error) {
	if handle == nil || handle.DB == nil {
		return nil, errors.New("landlord store not configured")
	}
	if _, err := handle.ExecContext(ctx, tenantsDDL); err != nil {
		return nil, err
	}
	return &SQLDirectory{handle: handle}, nil
}

func (d *SQLDirectory) Lookup(ctx context.Context, id string) (pipeline.Tenant, error) {
	var t pipeline.Tenant
	var createdAt string
	err := d.handle.QueryRowContext(ctx,
		`SELECT id, name, domain, created_at FROM tenants WHERE id = ?`, strings.TrimSpace(id),
	).Scan(&t.ID, &t.Name, &t.Domain, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Tenant{}, pipeline.NewNotFoundError("tenant", id)
	}
	if err != nil {
		return pipeline.Tenant{}, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return t, nil
}

func (d *SQLDirectory) List(ctx context.Context) ([]pipeline.Tenant, error) {
	rows, err := d.handle.QueryContext(ctx, `SELECT id, name, domain, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Tenant
	for rows.Next() {
		var t pipeline.Tenant
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Domain, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *SQLDirectory) Register(ctx context.Context, tenant pipeline.Tenant) error {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	_, err := d.handle.ExecContext(ctx,
		`INSERT INTO tenants (id, name, domain, created_at) VALUES (?, ?, ?, ?)`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}
