// Package store persists campaigns, documents, jobs, executions and the
// processor catalog in the active tenant store. Every call resolves the
// store through its Source, so a repository never outlives a tenant switch
// and fails fast when no tenant is active.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/connection"
)

// Source yields the active tenant store. *tenant.Context implements it.
type Source interface {
	Store() (*connection.Handle, error)
}

// Repository is the tenant-scoped persistence layer.
type Repository struct {
	src Source
}

func New(src Source) *Repository {
	return &Repository{src: src}
}

func (r *Repository) handle() (*connection.Handle, error) {
	if r == nil || r.src == nil {
		return nil, pipeline.NewContextError("repository has no tenant source", nil, nil)
	}
	return r.src.Store()
}

// owned checks a row's tenant id against the active store.
func owned(h *connection.Handle, tenantID string) error {
	if h.TenantID == "" || h.TenantID == tenantID {
		return nil
	}
	return pipeline.NewContextError(
		fmt.Sprintf("row belongs to tenant %q but %q is active", tenantID, h.TenantID),
		nil,
		map[string]any{"tenant_id": tenantID, "active_tenant_id": h.TenantID},
	)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decode(raw string, dst any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.NewNotFoundError(entity, id)
	}
	return err
}

func now() time.Time { return time.Now().UTC() }
