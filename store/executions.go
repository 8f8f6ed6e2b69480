package store

import (
	"context"
	"database/sql"

	pipeline "github.com/goliatone/go-pipeline"
)

const executionColumns = `id, job_id, step_id, step_index, processor_slug, seq, state, config, output,
	tokens_used, cost, error, started_at, completed_at, duration_ms, created_at`

// CreateExecution appends an execution to its job history. Sequence is
// assigned here and orders the history.
func (r *Repository) CreateExecution(ctx context.Context, e *pipeline.ProcessorExecution) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	var last sql.NullInt64
	if err := h.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM processor_executions WHERE job_id = ?`, e.JobID,
	).Scan(&last); err != nil {
		return err
	}
	e.Sequence = int(last.Int64) + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	if e.State == "" {
		e.State = pipeline.ExecutionPending
	}
	cfg, err := encode(orEmpty(e.Config))
	if err != nil {
		return err
	}
	out, err := encode(orEmpty(e.Output))
	if err != nil {
		return err
	}
	_, err = h.ExecContext(ctx, `INSERT INTO processor_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.StepID, e.StepIndex, e.ProcessorSlug, e.Sequence, string(e.State), cfg, out,
		e.TokensUsed, e.Cost, e.Error, nullTime(e.StartedAt), nullTime(e.CompletedAt), nullInt(e.DurationMS),
		formatTime(e.CreatedAt),
	)
	return err
}

// UpdateExecution writes state, config, results and timing.
func (r *Repository) UpdateExecution(ctx context.Context, e *pipeline.ProcessorExecution) error {
	h, err := r.handle()
	if err != nil {
		return err
	}
	cfg, err := encode(orEmpty(e.Config))
	if err != nil {
		return err
	}
	out, err := encode(orEmpty(e.Output))
	if err != nil {
		return err
	}
	res, err := h.ExecContext(ctx, `UPDATE processor_executions SET state = ?, config = ?, output = ?,
			tokens_used = ?, cost = ?, error = ?, started_at = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(e.State), cfg, out, e.TokensUsed, e.Cost, e.Error,
		nullTime(e.StartedAt), nullTime(e.CompletedAt), nullInt(e.DurationMS), e.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pipeline.NewNotFoundError("processor execution", e.ID)
	}
	return nil
}

// ListExecutions returns a job's execution history in creation order.
func (r *Repository) ListExecutions(ctx context.Context, jobID string) ([]pipeline.ProcessorExecution, error) {
	h, err := r.handle()
	if err != nil {
		return nil, err
	}
	rows, err := h.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM processor_executions WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.ProcessorExecution
	for rows.Next() {
		var e pipeline.ProcessorExecution
		var state, cfg, output, created string
		var started, completed sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.JobID, &e.StepID, &e.StepIndex, &e.ProcessorSlug, &e.Sequence, &state,
			&cfg, &output, &e.TokensUsed, &e.Cost, &e.Error, &started, &completed, &duration, &created); err != nil {
			return nil, err
		}
		if err := decode(cfg, &e.Config); err != nil {
			return nil, err
		}
		if err := decode(output, &e.Output); err != nil {
			return nil, err
		}
		e.State = pipeline.ExecutionState(state)
		e.StartedAt, e.CompletedAt = timePtr(started), timePtr(completed)
		if duration.Valid {
			ms := duration.Int64
			e.DurationMS = &ms
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
