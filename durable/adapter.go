package durable

import (
	"context"
	"fmt"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/runner"
	"github.com/goliatone/go-pipeline/store"
	"github.com/goliatone/go-pipeline/tenant"
)

// Engine is the part of *engine.Engine the adapter drives.
type Engine interface {
	NewContext() *tenant.Context
	Tenant(ctx context.Context, tenantID string) (pipeline.Tenant, error)
	Enqueue(ctx context.Context, doc pipeline.Document, campaign pipeline.Campaign) (pipeline.DocumentJob, error)
	RunStep(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, bool, error)
	Complete(ctx context.Context, tenantID, jobID string) (pipeline.DocumentJob, error)
	Fail(ctx context.Context, tenantID, jobID, detail string) (pipeline.DocumentJob, error)
}

// Adapter suspends jobs into checkpoints and resumes them one step at a
// time.
type Adapter struct {
	engine      Engine
	checkpoints CheckpointStore
	logger      pipeline.Logger
	now         func() time.Time
	backoff     runner.RetryStrategy
	maxAttempts int
}

type Option func(*Adapter)

func WithLogger(l pipeline.Logger) Option {
	return func(a *Adapter) {
		a.logger = pipeline.NormalizeLogger(l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithBackoff sets the delay before a step that hit a transient error is
// tried again.
func WithBackoff(s runner.RetryStrategy) Option {
	return func(a *Adapter) {
		if s != nil {
			a.backoff = s
		}
	}
}

// WithMaxAttempts fails a job after n consecutive transient step errors.
func WithMaxAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func NewAdapter(engine Engine, checkpoints CheckpointStore, opts ...Option) *Adapter {
	a := &Adapter{
		engine:      engine,
		checkpoints: checkpoints,
		logger:      pipeline.NormalizeLogger(nil),
		now:         func() time.Time { return time.Now().UTC() },
		backoff: runner.ExponentialBackoffStrategy{
			Base:   time.Second,
			Factor: 2,
			Max:    time.Minute,
		},
		maxAttempts: 5,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.checkpoints == nil {
		a.checkpoints = NewMemoryCheckpointStore()
	}
	return a
}

// Submit enqueues a job for doc and hands it to the checkpoint store.
func (a *Adapter) Submit(ctx context.Context, doc pipeline.Document, campaign pipeline.Campaign) (pipeline.DocumentJob, error) {
	job, err := a.engine.Enqueue(ctx, doc, campaign)
	if err != nil {
		return job, err
	}
	return job, a.Dispatch(ctx, job)
}

// Dispatch persists a checkpoint due now for job.
func (a *Adapter) Dispatch(ctx context.Context, job pipeline.DocumentJob) error {
	now := a.now()
	cp := Checkpoint{
		Args:      ResumeArgs{JobID: job.ID, TenantID: job.TenantID},
		DueAt:     now,
		CreatedAt: now,
	}
	if err := a.checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	a.logger.Debug("job %s dispatched (tenant %s)", job.ID, job.TenantID)
	return nil
}

// OnResume decodes raw args, activates the job's tenant on tc and loads the
// job. On success the tenant stays active on tc; on failure tc is back to
// whatever was active before the call.
func (a *Adapter) OnResume(ctx context.Context, tc *tenant.Context, raw []byte) (pipeline.DocumentJob, pipeline.Tenant, error) {
	args, err := DecodeResumeArgs(raw)
	if err != nil {
		return pipeline.DocumentJob{}, pipeline.Tenant{}, err
	}
	meta := map[string]any{"job_id": args.JobID, "tenant_id": args.TenantID}

	t, err := a.engine.Tenant(ctx, args.TenantID)
	if err != nil {
		return pipeline.DocumentJob{}, pipeline.Tenant{}, pipeline.NewResumeError(
			fmt.Sprintf("resume job %s: tenant %s", args.JobID, args.TenantID), err, meta)
	}
	release, err := tc.Scope(ctx, t)
	if err != nil {
		return pipeline.DocumentJob{}, t, pipeline.NewResumeError(
			fmt.Sprintf("resume job %s: activate tenant %s", args.JobID, t.ID), err, meta)
	}
	job, err := store.New(tc).GetJob(ctx, args.JobID)
	if err == nil && job.TenantID != t.ID {
		err = pipeline.NewContextError(fmt.Sprintf("job belongs to tenant %q", job.TenantID), nil, nil)
	}
	if err != nil {
		release()
		return pipeline.DocumentJob{}, t, pipeline.NewResumeError(
			fmt.Sprintf("resume job %s: load", args.JobID), err, meta)
	}
	return job, t, nil
}

// OnCompleted re-establishes the tenant and runs the completion path when
// the job is not terminal yet.
func (a *Adapter) OnCompleted(ctx context.Context, tc *tenant.Context, jobID, tenantID string) error {
	_, err := a.engine.Complete(tenant.WithContext(ctx, tc), tenantID, jobID)
	return a.resumeError(err, jobID, tenantID)
}

// OnFailed re-establishes the tenant and runs the failure path when the job
// is not terminal yet.
func (a *Adapter) OnFailed(ctx context.Context, tc *tenant.Context, jobID, tenantID, detail string) error {
	_, err := a.engine.Fail(tenant.WithContext(ctx, tc), tenantID, jobID, detail)
	return a.resumeError(err, jobID, tenantID)
}

func (a *Adapter) resumeError(err error, jobID, tenantID string) error {
	if err == nil {
		return nil
	}
	if pipeline.IsContextError(err) || pipeline.IsNotFound(err) {
		return pipeline.NewResumeError(
			fmt.Sprintf("job %s: tenant context could not be re-established", jobID),
			err,
			map[string]any{"job_id": jobID, "tenant_id": tenantID},
		)
	}
	return err
}

// Step resumes the checkpointed job, runs one step and then reschedules it,
// completes it or drops the checkpoint. Each call uses its own tenant
// context.
func (a *Adapter) Step(ctx context.Context, cp Checkpoint) error {
	raw, err := cp.Args.Encode()
	if err != nil {
		return err
	}
	logger := pipeline.WithFields(a.logger.WithContext(ctx), map[string]any{
		"job_id":    cp.Args.JobID,
		"tenant_id": cp.Args.TenantID,
	})

	tc := a.engine.NewContext()
	job, t, err := a.OnResume(ctx, tc, raw)
	if err != nil {
		// left in its last known state for manual inspection
		logger.Error("resume failed, checkpoint dropped: %v", err)
		_ = a.checkpoints.Delete(ctx, cp.ID())
		return err
	}
	defer tc.Deactivate()
	ctx = tenant.WithContext(ctx, tc)

	if job.State.Terminal() {
		return a.checkpoints.Delete(ctx, cp.ID())
	}

	job, more, err := a.engine.RunStep(ctx, t.ID, job.ID)
	switch {
	case err != nil && job.State.Terminal():
		logger.Warn("job ended in %s: %v", job.State, err)
		return a.checkpoints.Delete(ctx, cp.ID())
	case err != nil:
		return a.reschedule(ctx, tc, cp, err, logger)
	case job.State.Terminal():
		logger.Info("job %s during step, checkpoint dropped", job.State)
		return a.checkpoints.Delete(ctx, cp.ID())
	case more:
		cp.DueAt = a.now()
		cp.Attempts = 0
		cp.LastError = ""
		return a.checkpoints.Save(ctx, cp)
	}

	if err := a.OnCompleted(ctx, tc, job.ID, t.ID); err != nil {
		return a.reschedule(ctx, tc, cp, err, logger)
	}
	logger.Info("job completed")
	return a.checkpoints.Delete(ctx, cp.ID())
}

func (a *Adapter) reschedule(ctx context.Context, tc *tenant.Context, cp Checkpoint, cause error, logger pipeline.Logger) error {
	cp.Attempts++
	cp.LastError = cause.Error()
	if cp.Attempts >= a.maxAttempts {
		logger.Error("giving up after %d attempts: %v", cp.Attempts, cause)
		if err := a.OnFailed(ctx, tc, cp.Args.JobID, cp.Args.TenantID, cause.Error()); err != nil {
			return err
		}
		return a.checkpoints.Delete(ctx, cp.ID())
	}
	cp.DueAt = a.now().Add(a.backoff.SleepDuration(cp.Attempts-1, cause))
	logger.Warn("attempt %d failed, retry at %s: %v", cp.Attempts, cp.DueAt.Format(time.RFC3339), cause)
	if err := a.checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	return cause
}
