package store

import (
	"context"
	"database/sql"

	pipeline "github.com/goliatone/go-pipeline"
)

const jobColumns = `id, tenant_id, document_id, campaign_id, pipeline, step_index, state, error, error_log,
	started_at, completed_at, created_at, updated_at`

// CreateJob inserts a new job.
func (r *Repository) CreateJob(ctx context.Context, j *pipeline.DocumentJob) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	if err := owned(h, j.TenantID); err != nil {
		return err
	}
	ts := now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = ts
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = ts
	}
	cfg, err := encode(j.Pipeline)
	if err != nil {
		return err
	}
	log, err := encode(errorLog(j.ErrorLog))
	if err != nil {
		return err
	}
	_, err = h.ExecContext(ctx, `INSERT INTO document_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TenantID, j.DocumentID, j.CampaignID, cfg, j.StepIndex, string(j.State), j.Error, log,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	return err
}

// UpdateJob writes the mutable job fields when the stored job is still in
// state from. A job moved on by another writer is a StaleState error and
// stays untouched. The pipeline snapshot is never rewritten.
func (r *Repository) UpdateJob(ctx context.Context, j *pipeline.DocumentJob, from pipeline.JobState) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	if err := owned(h, j.TenantID); err != nil {
		return err
	}
	log, err := encode(errorLog(j.ErrorLog))
	if err != nil {
		return err
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now()
	}
	res, err := h.ExecContext(ctx, `UPDATE document_jobs SET step_index = ?, state = ?, error = ?, error_log = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		j.StepIndex, string(j.State), j.Error, log,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), formatTime(j.UpdatedAt), j.ID, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var actual string
	if err := h.QueryRowContext(ctx, `SELECT state FROM document_jobs WHERE id = ?`, j.ID).Scan(&actual); err != nil {
		return notFound(err, "document job", j.ID)
	}
	return pipeline.NewStaleStateError("document job", j.ID, string(from), actual)
}

func (r *Repository) GetJob(ctx context.Context, id string) (pipeline.DocumentJob, error) {
	h, err := r.handle()
	if err != nil {
		return pipeline.DocumentJob{}, err
	}
	job, err := scanJob(h.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM document_jobs WHERE id = ?`, id))
	if err != nil {
		return pipeline.DocumentJob{}, notFound(err, "document job", id)
	}
	return job, nil
}

// JobsForDocument returns every job of a document, oldest first.
func (r *Repository) JobsForDocument(ctx context.Context, documentID string) ([]pipeline.DocumentJob, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM document_jobs WHERE document_id = ? ORDER BY created_at, id`, documentID)
}

// ListJobs returns every job in the active store, filtered by state when
// states are given.
func (r *Repository) ListJobs(ctx context.Context, states ...pipeline.JobState) ([]pipeline.DocumentJob, error) {
	jobs, err := r.listJobs(ctx, `SELECT `+jobColumns+` FROM document_jobs ORDER BY created_at, id`)
	if err != nil || len(states) == 0 {
		return jobs, err
	}
	keep := make(map[pipeline.JobState]struct{}, len(states))
	for _, s := range states {
		keep[s] = struct{}{}
	}
	out := jobs[:0]
	for _, j := range jobs {
		if _, ok := keep[j.State]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *Repository) listJobs(ctx context.Context, query string, args ...any) ([]pipeline.DocumentJob, error) {
	h, err := r.handle()
	if err != nil {
		return nil, err
	}
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.DocumentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (pipeline.DocumentJob, error) {
	var j pipeline.DocumentJob
	var cfg, state, log, created, updated string
	var started, completed sql.NullString
	if err := row.Scan(&j.ID, &j.TenantID, &j.DocumentID, &j.CampaignID, &cfg, &j.StepIndex, &state,
		&j.Error, &log, &started, &completed, &created, &updated); err != nil {
		return pipeline.DocumentJob{}, err
	}
	if err := decode(cfg, &j.Pipeline); err != nil {
		return pipeline.DocumentJob{}, err
	}
	if err := decode(log, &j.ErrorLog); err != nil {
		return pipeline.DocumentJob{}, err
	}
	j.State = pipeline.JobState(state)
	j.StartedAt, j.CompletedAt = timePtr(started), timePtr(completed)
	j.CreatedAt, j.UpdatedAt = parseTime(created), parseTime(updated)
	return j, nil
}

func errorLog(entries []pipeline.ErrorEntry) []pipeline.ErrorEntry {
	if entries == nil {
		return []pipeline.ErrorEntry{}
	}
	return entries
}
