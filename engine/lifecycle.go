package engine

import (
	"context"
	"errors"
	"fmt"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/fsm"
)

// Start freezes the campaign pipeline into a new job for doc and runs it to
// completion or to the first failing step. Configuration problems are
// reported before any job row is written.
func (e *Engine) Start(ctx context.Context, doc pipeline.Document, campaign pipeline.Campaign) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, doc.TenantID, func(ctx context.Context, s *session) error {
		prepared, stored, err := s.prepare(ctx, doc, campaign)
		if err != nil {
			return err
		}
		if err := s.repo.CreateJob(ctx, &prepared); err != nil {
			return err
		}
		s.logger.Info("job %s created for document %s", prepared.ID, stored.ID)
		job, err = s.run(ctx, prepared, stored)
		return err
	})
	return job, err
}

// Enqueue freezes the campaign pipeline into a queued job without running
// it.
func (e *Engine) Enqueue(ctx context.Context, doc pipeline.Document, campaign pipeline.Campaign) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, doc.TenantID, func(ctx context.Context, s *session) error {
		prepared, stored, err := s.prepare(ctx, doc, campaign)
		if err != nil {
			return err
		}
		now := s.now()
		if err := fsm.Job(&prepared, pipeline.JobQueued, now); err != nil {
			return err
		}
		if stored.State == pipeline.DocumentPending {
			if err := fsm.Document(&stored, pipeline.DocumentQueued, now); err != nil {
				return err
			}
			if err := s.repo.SaveDocument(ctx, &stored); err != nil {
				return err
			}
		}
		if err := s.repo.CreateJob(ctx, &prepared); err != nil {
			return err
		}
		s.logger.Info("job %s queued for document %s", prepared.ID, stored.ID)
		job = prepared
		return nil
	})
	return job, err
}

// Run executes a pending, queued or running job from its step index.
func (e *Engine) Run(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		job, err = s.run(ctx, loaded, doc)
		return err
	})
	return job, err
}

// RunStep executes exactly one step of the job and reports whether steps
// remain. It never runs the completion path; callers finish with Complete.
func (e *Engine) RunStep(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, bool, error) {
	var job pipeline.DocumentJob
	var more bool
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		job = loaded
		if job.State.Terminal() {
			return nil
		}
		err = s.begin(ctx, &job, &doc)
		if err == nil && job.HasMoreSteps() {
			err = s.step(ctx, &job, &doc)
		}
		if errors.Is(err, errStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		more = job.HasMoreSteps()
		return nil
	})
	return job, more, err
}

// Complete runs the completion path. A job already completed is returned
// unchanged.
func (e *Engine) Complete(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		job = loaded
		if job.State.Terminal() {
			s.logger.Debug("job %s already %s, completion skipped", job.ID, job.State)
			return nil
		}
		if job.HasMoreSteps() {
			return pipeline.NewError(pipeline.ErrTransition,
				fmt.Sprintf("job %s has %d steps left", job.ID, len(job.Pipeline.Processors)-job.StepIndex),
				nil,
				map[string]any{"job_id": job.ID, "step_index": job.StepIndex},
			)
		}
		if err := s.complete(ctx, &job, &doc); !errors.Is(err, errStopped) {
			return err
		}
		return nil
	})
	return job, err
}

// Fail runs the failure path with detail as the visible error. A job
// already in a terminal state is returned unchanged. The error reports
// only a failure to record the failure.
func (e *Engine) Fail(ctx context.Context, tenantID, jobID, detail string) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		job = loaded
		if job.State.Terminal() {
			s.logger.Debug("job %s already %s, failure skipped", job.ID, job.State)
			return nil
		}
		if job.State != pipeline.JobRunning {
			if err := s.begin(ctx, &job, &doc); err != nil {
				if errors.Is(err, errStopped) {
					return nil
				}
				return err
			}
		}
		stepID := ""
		if step, ok := job.CurrentStep(); ok {
			stepID = step.ID
		}
		cause := errors.New(detail)
		if err := s.fail(ctx, &job, &doc, stepID, cause); err != cause && !errors.Is(err, errStopped) {
			return err
		}
		return nil
	})
	return job, err
}

// Cancel stops a pending, queued or running job. Completed executions are
// kept; no further step starts.
func (e *Engine) Cancel(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		job = loaded
		from := job.State
		if err := fsm.Job(&job, pipeline.JobCancelled, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateJob(ctx, &job, from); err != nil {
			return err
		}
		if err := s.moveDocument(ctx, &doc, pipeline.DocumentCancelled); err != nil {
			s.logger.Warn("job %s cancelled but document %s not updated: %v", job.ID, doc.ID, err)
		}
		s.logger.Info("job %s cancelled at step %d", job.ID, job.StepIndex)
		return nil
	})
	return job, err
}

// Retry re-queues a failed job and runs it from the failed step. New
// execution records are appended; history is kept.
func (e *Engine) Retry(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, error) {
	var job pipeline.DocumentJob
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		loaded, doc, err := s.load(ctx, jobID)
		if err != nil {
			return err
		}
		from := loaded.State
		if err := fsm.Job(&loaded, pipeline.JobQueued, s.now()); err != nil {
			return err
		}
		loaded.Error = ""
		if err := s.repo.UpdateJob(ctx, &loaded, from); err != nil {
			return err
		}
		s.logger.Info("job %s re-queued at step %d", loaded.ID, loaded.StepIndex)
		job, err = s.run(ctx, loaded, doc)
		return err
	})
	return job, err
}
