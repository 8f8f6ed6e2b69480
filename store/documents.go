package store

import (
	"context"
	"database/sql"

	pipeline "github.com/goliatone/go-pipeline"
)

// SaveDocument inserts or updates a document.
func (r *Repository) SaveDocument(ctx context.Context, d *pipeline.Document) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	if err := owned(h, d.TenantID); err != nil {
		return err
	}
	ts := now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = ts
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = ts
	}
	if d.State == "" {
		d.State = pipeline.DocumentPending
	}
	_, err = h.ExecContext(ctx, `INSERT INTO documents (id, tenant_id, campaign_id, filename, content_hash, mime_type,
			size, storage_location, state, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, processed_at = excluded.processed_at,
			updated_at = excluded.updated_at`,
		d.ID, d.TenantID, d.CampaignID, d.Filename, d.ContentHash, d.MimeType,
		d.Size, d.StorageLocation, string(d.State), nullTime(d.ProcessedAt),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

func (r *Repository) GetDocument(ctx context.Context, id string) (pipeline.Document, error) {
	h, err := r.handle()
	if err != nil {
		return pipeline.Document{}, err
	}
	var d pipeline.Document
	var state, created, updated string
	var processed sql.NullString
	err = h.QueryRowContext(ctx, `SELECT id, tenant_id, campaign_id, filename, content_hash, mime_type, size,
			storage_location, state, processed_at, created_at, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.TenantID, &d.CampaignID, &d.Filename, &d.ContentHash, &d.MimeType, &d.Size,
		&d.StorageLocation, &state, &processed, &created, &updated)
	if err != nil {
		return pipeline.Document{}, notFound(err, "document", id)
	}
	d.State = pipeline.DocumentState(state)
	d.ProcessedAt = timePtr(processed)
	d.CreatedAt, d.UpdatedAt = parseTime(created), parseTime(updated)
	return d, nil
}
