package store

import (
	"context"

	pipeline "github.com/goliatone/go-pipeline"
)

const processorColumns = `slug, name, version, category, implementation, dependencies, default_config,
	config_schema, output_schema, enabled, created_at, updated_at`

// SaveProcessor inserts or replaces a catalog entry.
func (r *Repository) SaveProcessor(ctx context.Context, p *pipeline.ProcessorDefinition) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	deps, err := encode(emptyList(p.Dependencies))
	if err != nil {
		return err
	}
	defaults, err := encode(orEmpty(p.DefaultConfig))
	if err != nil {
		return err
	}
	cfgSchema, err := encode(orEmpty(p.ConfigSchema))
	if err != nil {
		return err
	}
	outSchema, err := encode(orEmpty(p.OutputSchema))
	if err != nil {
		return err
	}
	ts := now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ts
	}
	p.UpdatedAt = ts
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err = h.ExecContext(ctx, `INSERT INTO processors (`+processorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET name = excluded.name, version = excluded.version,
			category = excluded.category, implementation = excluded.implementation,
			dependencies = excluded.dependencies, default_config = excluded.default_config,
			config_schema = excluded.config_schema, output_schema = excluded.output_schema,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		p.Slug, p.Name, p.Version, p.Category, p.Implementation, deps, defaults, cfgSchema, outSchema,
		enabled, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

// ListProcessors returns the enabled catalog entries ordered by slug.
func (r *Repository) ListProcessors(ctx context.Context) ([]pipeline.ProcessorDefinition, error) {
	h, err := r.handle()
	if err != nil {
		return nil, err
	}
	rows, err := h.QueryContext(ctx,
		`SELECT `+processorColumns+` FROM processors WHERE enabled = 1 ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.ProcessorDefinition
	for rows.Next() {
		var p pipeline.ProcessorDefinition
		var deps, defaults, cfgSchema, outSchema, created, updated string
		var enabled int
		if err := rows.Scan(&p.Slug, &p.Name, &p.Version, &p.Category, &p.Implementation, &deps, &defaults,
			&cfgSchema, &outSchema, &enabled, &created, &updated); err != nil {
			return nil, err
		}
		for _, field := range []struct {
			raw string
			dst any
		}{
			{deps, &p.Dependencies},
			{defaults, &p.DefaultConfig},
			{cfgSchema, &p.ConfigSchema},
			{outSchema, &p.OutputSchema},
		} {
			if err := decode(field.raw, field.dst); err != nil {
				return nil, err
			}
		}
		p.Enabled = enabled == 1
		p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func emptyList(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
