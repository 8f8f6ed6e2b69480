// Package connection locates, creates and repairs tenant stores. There is
// never a shared fallback store: every failure is returned to the caller.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

// Driver is the physical store backend.
type Driver interface {
	Dialect() Dialect
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string) error
	Open(ctx context.Context, name string) (*sql.DB, error)
	Tables(ctx context.Context, db *sql.DB) ([]string, error)
}

var validTenantID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Manager opens and caches one handle per store name.
type Manager struct {
	driver     Driver
	migrations []Migration
	logger     pipeline.Logger
	now        func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger pipeline.Logger) Option {
	return func(m *Manager) {
		m.logger = pipeline.NormalizeLogger(logger)
	}
}

// WithMigrations replaces the tenant migration set.
func WithMigrations(migrations ...Migration) Option {
	return func(m *Manager) {
		m.migrations = append([]Migration(nil), migrations...)
	}
}

func NewManager(driver Driver, opts ...Option) *Manager {
	m := &Manager{
		driver:     driver,
		migrations: TenantMigrations,
		logger:     pipeline.NormalizeLogger(nil),
		now:        time.Now,
		handles:    make(map[string]*Handle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) Dialect() Dialect { return m.driver.Dialect() }

// Migrations returns the ordered tenant migration set.
func (m *Manager) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

func storeName(tenant pipeline.Tenant) (string, error) {
	id := strings.TrimSpace(tenant.ID)
	if !validTenantID.MatchString(id) {
		return "", pipeline.NewContextError(
			fmt.Sprintf("invalid tenant id %q", tenant.ID),
			nil,
			map[string]any{"tenant_id": tenant.ID},
		)
	}
	return pipeline.StoreName(id), nil
}

// Locate returns the open handle for a tenant store. A missing or
// unreachable store is a ContextError.
func (m *Manager) Locate(ctx context.Context, tenant pipeline.Tenant) (*Handle, error) {
	name, err := storeName(tenant)
	if err != nil {
		return nil, err
	}
	h, err := m.open(ctx, name, tenant.ID, false)
	if err != nil {
		return nil, pipeline.NewContextError(
			fmt.Sprintf("tenant store %s unavailable", name),
			err,
			map[string]any{"tenant_id": tenant.ID, "store": name},
		)
	}
	return h, nil
}

// Shared opens a non-tenant store by name, creating it when missing. It is
// used for the landlord tenant directory.
func (m *Manager) Shared(ctx context.Context, name string) (*Handle, error) {
	if !validTenantID.MatchString(name) {
		return nil, fmt.Errorf("invalid store name %q", name)
	}
	return m.open(ctx, name, "", true)
}

func (m *Manager) open(ctx context.Context, name, tenantID string, create bool) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[name]; ok {
		return h, nil
	}
	exists, err := m.driver.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !create {
			return nil, pipeline.NewNotFoundError("store", name)
		}
		if err := m.driver.Create(ctx, name); err != nil {
			return nil, err
		}
	}
	db, err := m.driver.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	h := &Handle{TenantID: tenantID, Name: name, Dialect: m.driver.Dialect(), DB: db}
	m.handles[name] = h
	return h, nil
}

// Exists reports whether the tenant store has been created.
func (m *Manager) Exists(ctx context.Context, tenant pipeline.Tenant) (bool, error) {
	name, err := storeName(tenant)
	if err != nil {
		return false, err
	}
	return m.driver.Exists(ctx, name)
}

// Create creates the tenant store. It fails when the store already exists.
func (m *Manager) Create(ctx context.Context, tenant pipeline.Tenant) error {
	name, err := storeName(tenant)
	if err != nil {
		return err
	}
	exists, err := m.driver.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("tenant store %s already exists", name)
	}
	if err := m.driver.Create(ctx, name); err != nil {
		return fmt.Errorf("create tenant store %s: %w", name, err)
	}
	m.logger.Info("tenant store %s created", name)
	return nil
}

// SchemaReady inspects the store catalog for the required tables without
// changing anything.
func (m *Manager) SchemaReady(ctx context.Context, tenant pipeline.Tenant) (bool, error) {
	missing, err := m.MissingTables(ctx, tenant)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// MissingTables lists required tables absent from the tenant store.
func (m *Manager) MissingTables(ctx context.Context, tenant pipeline.Tenant) ([]string, error) {
	h, err := m.Locate(ctx, tenant)
	if err != nil {
		return nil, err
	}
	tables, err := m.driver.Tables(ctx, h.DB)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", h.Name, err)
	}
	present := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		present[t] = struct{}{}
	}
	var missing []string
	for _, t := range RequiredTables {
		if _, ok := present[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// RepairSchema re-applies the whole migration set and records any version
// not yet in schema_migrations.
func (m *Manager) RepairSchema(ctx context.Context, tenant pipeline.Tenant) error {
	h, err := m.Locate(ctx, tenant)
	if err != nil {
		return err
	}
	return m.migrate(ctx, h)
}

func (m *Manager) migrate(ctx context.Context, h *Handle) error {
	if _, err := h.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("migrate %s: %w", h.Name, err)
	}
	for _, mig := range m.migrations {
		for _, stmt := range mig.Statements {
			if _, err := h.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: version %d (%s): %w", h.Name, mig.Version, mig.Name, err)
			}
		}
		var applied int
		if err := h.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, mig.Version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("migrate %s: %w", h.Name, err)
		}
		if applied > 0 {
			continue
		}
		if _, err := h.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			mig.Version, mig.Name, m.now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("migrate %s: record version %d: %w", h.Name, mig.Version, err)
		}
		m.logger.Debug("store %s migrated to version %d (%s)", h.Name, mig.Version, mig.Name)
	}
	return nil
}

// Provision creates the tenant store and applies the migration set.
func (m *Manager) Provision(ctx context.Context, tenant pipeline.Tenant) (*Handle, error) {
	if err := m.Create(ctx, tenant); err != nil {
		return nil, err
	}
	if err := m.RepairSchema(ctx, tenant); err != nil {
		return nil, err
	}
	return m.Locate(ctx, tenant)
}

// Close closes every cached handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs error
	for name, h := range m.handles {
		if err := h.DB.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.handles, name)
	}
	return errs
}
