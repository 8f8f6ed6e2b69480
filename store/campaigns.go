package store

import (
	"context"

	pipeline "github.com/goliatone/go-pipeline"
)

// SaveCampaign inserts or replaces a campaign.
func (r *Repository) SaveCampaign(ctx context.Context, c *pipeline.Campaign) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	if err := owned(h, c.TenantID); err != nil {
		return err
	}
	cfg, err := encode(c.Pipeline)
	if err != nil {
		return err
	}
	ts := now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	c.UpdatedAt = ts
	_, err = h.ExecContext(ctx, `INSERT INTO campaigns (id, tenant_id, name, pipeline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, pipeline = excluded.pipeline, updated_at = excluded.updated_at`,
		c.ID, c.TenantID, c.Name, cfg, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

func (r *Repository) GetCampaign(ctx context.Context, id string) (pipeline.Campaign, error) {
	h, err := r.handle()
	if err != nil {
		return pipeline.Campaign{}, err
	}
	var c pipeline.Campaign
	var cfg, created, updated string
	err = h.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, pipeline, created_at, updated_at FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.TenantID, &c.Name, &cfg, &created, &updated)
	if err != nil {
		return pipeline.Campaign{}, notFound(err, "campaign", id)
	}
	if err := decode(cfg, &c.Pipeline); err != nil {
		return pipeline.Campaign{}, err
	}
	c.CreatedAt, c.UpdatedAt = parseTime(created), parseTime(updated)
	return c, nil
}
