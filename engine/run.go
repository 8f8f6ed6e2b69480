package engine

import (
	"context"
	"errors"
	"fmt"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/fsm"
	"github.com/goliatone/go-pipeline/runner"
)

// prepare validates the campaign pipeline against the tenant registry and
// builds a pending job around a frozen copy of it. Nothing job related is
// written when validation fails.
func (s *session) prepare(ctx context.Context, doc pipeline.Document, campaign pipeline.Campaign) (pipeline.DocumentJob, pipeline.Document, error) {
	if doc.ID == "" {
		return pipeline.DocumentJob{}, doc, pipeline.NewConfigurationError("document id required", nil)
	}
	if campaign.TenantID != "" && campaign.TenantID != doc.TenantID {
		return pipeline.DocumentJob{}, doc, pipeline.NewContextError(
			fmt.Sprintf("campaign %s belongs to tenant %q, document %s to %q", campaign.ID, campaign.TenantID, doc.ID, doc.TenantID),
			nil,
			map[string]any{"campaign_id": campaign.ID, "document_id": doc.ID},
		)
	}
	if doc.CampaignID != "" && campaign.ID != "" && doc.CampaignID != campaign.ID {
		return pipeline.DocumentJob{}, doc, pipeline.NewConfigurationError(
			fmt.Sprintf("document %s belongs to campaign %s, not %s", doc.ID, doc.CampaignID, campaign.ID),
			map[string]any{"campaign_id": campaign.ID, "document_id": doc.ID},
		)
	}

	snapshot := campaign.Pipeline.Clone()
	if err := s.validate(snapshot); err != nil {
		s.logger.Warn("campaign %s rejected: %v", campaign.ID, err)
		return pipeline.DocumentJob{}, doc, err
	}

	stored, err := s.repo.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
	case pipeline.IsNotFound(err):
		stored = doc
		if stored.CampaignID == "" {
			stored.CampaignID = campaign.ID
		}
		if err := s.repo.SaveDocument(ctx, &stored); err != nil {
			return pipeline.DocumentJob{}, doc, err
		}
	default:
		return pipeline.DocumentJob{}, doc, err
	}

	if campaign.ID != "" {
		if _, err := s.repo.GetCampaign(ctx, campaign.ID); pipeline.IsNotFound(err) {
			c := campaign
			c.TenantID = doc.TenantID
			if err := s.repo.SaveCampaign(ctx, &c); err != nil {
				return pipeline.DocumentJob{}, doc, err
			}
		} else if err != nil {
			return pipeline.DocumentJob{}, doc, err
		}
	}

	now := s.now()
	job := pipeline.DocumentJob{
		ID:         s.newID(),
		TenantID:   doc.TenantID,
		DocumentID: stored.ID,
		CampaignID: campaign.ID,
		Pipeline:   snapshot,
		State:      pipeline.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return job, stored, nil
}

// validate checks ids, processor references, dependency graphs and
// placeholder references of a pipeline.
func (s *session) validate(cfg pipeline.PipelineConfig) error {
	if len(cfg.Processors) == 0 {
		return pipeline.NewConfigurationError("pipeline configuration has no steps", nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, step := range cfg.Processors {
		if _, _, err := s.registry.Resolve(step.Type); err != nil {
			return err
		}
		if _, err := s.resolver.Order(step.Type); err != nil {
			return err
		}
	}
	return checkPlaceholders(cfg)
}

func (s *session) load(ctx context.Context, jobID string) (pipeline.DocumentJob, pipeline.Document, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return job, pipeline.Document{}, err
	}
	if err := s.tc.Verify(job.TenantID); err != nil {
		return job, pipeline.Document{}, err
	}
	doc, err := s.repo.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return job, doc, err
	}
	return job, doc, nil
}

// errStopped reports that another writer moved the job on, a Cancel most
// often, while this session was driving it.
var errStopped = errors.New("job moved on by another writer")

// saveJob writes job when its stored row is still in state from. When the
// row moved on elsewhere, job is reloaded and errStopped returned.
func (s *session) saveJob(ctx context.Context, job *pipeline.DocumentJob, from pipeline.JobState) error {
	err := s.repo.UpdateJob(ctx, job, from)
	if !pipeline.IsStaleState(err) {
		return err
	}
	current, gerr := s.repo.GetJob(ctx, job.ID)
	if gerr != nil {
		return gerr
	}
	s.logger.Info("job %s is %s elsewhere, stopping at step %d", job.ID, current.State, current.StepIndex)
	*job = current
	return errStopped
}

// begin moves the job to running and its document to processing.
func (s *session) begin(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document) error {
	if job.State != pipeline.JobRunning {
		from := job.State
		if err := fsm.Job(job, pipeline.JobRunning, s.now()); err != nil {
			return err
		}
		if err := s.saveJob(ctx, job, from); err != nil {
			return err
		}
	}
	if doc.State == pipeline.DocumentPending {
		if err := s.moveDocument(ctx, doc, pipeline.DocumentQueued); err != nil {
			return err
		}
	}
	return s.moveDocument(ctx, doc, pipeline.DocumentProcessing)
}

// run executes the remaining steps and then the completion path. A job
// cancelled meanwhile is returned as stored, without error.
func (s *session) run(ctx context.Context, job pipeline.DocumentJob, doc pipeline.Document) (pipeline.DocumentJob, error) {
	if job.State == pipeline.JobCompleted {
		return job, nil
	}
	err := s.drive(ctx, &job, &doc)
	if errors.Is(err, errStopped) {
		return job, nil
	}
	return job, err
}

func (s *session) drive(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document) error {
	if err := s.begin(ctx, job, doc); err != nil {
		return err
	}
	for job.HasMoreSteps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := s.repo.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if current.State.Terminal() {
			s.logger.Info("job %s %s, stopping before step %d", job.ID, current.State, job.StepIndex)
			*job = current
			return errStopped
		}
		if err := s.step(ctx, job, doc); err != nil {
			return err
		}
	}
	return s.complete(ctx, job, doc)
}

// step runs the step at the job's index. On failure the job has already
// been failed when the error is returned. Once the execution record exists
// the step is recorded to its end even if ctx is cancelled; only the
// processor sees ctx.
func (s *session) step(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	step, ok := job.CurrentStep()
	if !ok {
		return nil
	}
	logger := pipeline.WithFields(s.logger, map[string]any{
		"job_id":      job.ID,
		"document_id": job.DocumentID,
		"step_id":     step.ID,
		"processor":   step.Type,
	})

	proc, _, err := s.registry.Resolve(step.Type)
	if err != nil {
		return s.fail(ctx, job, doc, step.ID, err)
	}
	history, err := s.repo.ListExecutions(ctx, job.ID)
	if err != nil {
		return err
	}

	rec := context.WithoutCancel(ctx)
	exec := pipeline.ProcessorExecution{
		ID:            s.newID(),
		JobID:         job.ID,
		StepID:        step.ID,
		StepIndex:     job.StepIndex,
		ProcessorSlug: step.Type,
		State:         pipeline.ExecutionPending,
		Config:        pipeline.CloneValue(step.Config).(map[string]any),
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateExecution(rec, &exec); err != nil {
		return err
	}

	if err := s.resolver.AssertSatisfied(step.Type, history); err != nil {
		logger.Warn("step %d short-circuited: %v", job.StepIndex, err)
		exec.Error = err.Error()
		if terr := fsm.Execution(&exec, pipeline.ExecutionSkipped, s.now()); terr != nil {
			return terr
		}
		if uerr := s.repo.UpdateExecution(rec, &exec); uerr != nil {
			return uerr
		}
		s.emitter.Emit(rec, pipeline.ExecutionFailedSignal{Execution: exec, Job: *job})
		return s.fail(rec, job, doc, step.ID, err)
	}

	if err := fsm.Execution(&exec, pipeline.ExecutionRunning, s.now()); err != nil {
		return err
	}
	if err := s.repo.UpdateExecution(rec, &exec); err != nil {
		return err
	}
	s.hooks.Before(rec, exec)

	outputs := pipeline.StepOutputs(history)
	cfg, err := resolvePlaceholders(step.Config, outputs)
	if err == nil {
		cfg, err = s.registry.ResolveConfig(step.Type, cfg)
	}
	if err != nil {
		return s.failExecution(rec, job, doc, &exec, err, err)
	}
	exec.Config = cfg

	result, err := s.invoke(ctx, proc, *doc, cfg, pipeline.StepContext{
		TenantID:     job.TenantID,
		JobID:        job.ID,
		DocumentID:   job.DocumentID,
		StepIndex:    job.StepIndex,
		StepID:       step.ID,
		PriorOutputs: outputs,
	})
	if err == nil {
		err = s.registry.ValidateOutput(step.Type, result.Output)
	}
	if err != nil {
		return s.failExecution(rec, job, doc, &exec, err, pipeline.NewProcessorExecutionError(step.Type, step.ID, err))
	}

	done := exec
	done.Output = result.Output
	done.TokensUsed = result.TokensUsed
	done.Cost = result.Cost
	if err := fsm.Execution(&done, pipeline.ExecutionCompleted, s.now()); err != nil {
		return err
	}
	if err := s.repo.UpdateExecution(rec, &done); err != nil {
		return s.failExecution(rec, job, doc, &exec, err, err)
	}
	exec = done
	s.hooks.After(rec, exec, result.Output)

	advanced := *job
	advanced.StepIndex++
	advanced.UpdatedAt = s.now()
	if err := s.saveJob(rec, &advanced, pipeline.JobRunning); err != nil {
		if errors.Is(err, errStopped) {
			*job = advanced
			return err
		}
		return s.fail(rec, job, doc, step.ID, err)
	}
	*job = advanced
	logger.Info("step %d completed", exec.StepIndex)
	s.emitter.Emit(rec, pipeline.StageCompleted{Job: *job, Execution: exec})
	return nil
}

// invoke calls the processor once; a panic becomes an error.
func (s *session) invoke(ctx context.Context, proc pipeline.Processor, doc pipeline.Document, cfg map[string]any, sc pipeline.StepContext) (pipeline.Result, error) {
	opts := append([]runner.Option{runner.WithLogger(s.logger)}, s.stepOpts...)
	var result pipeline.Result
	err := runner.NewHandler(opts...).Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = proc.Process(ctx, doc, cfg, sc)
		return err
	})
	return result, err
}

// failExecution records cause verbatim on the execution and fails the job
// with reported.
func (s *session) failExecution(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document, exec *pipeline.ProcessorExecution, cause, reported error) error {
	ctx = context.WithoutCancel(ctx)
	exec.Error = cause.Error()
	if err := fsm.Execution(exec, pipeline.ExecutionFailed, s.now()); err != nil {
		return err
	}
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	s.hooks.OnFailure(ctx, *exec, cause)
	s.emitter.Emit(ctx, pipeline.ExecutionFailedSignal{Execution: *exec, Job: *job})
	return s.fail(ctx, job, doc, exec.StepID, reported)
}

// fail moves the job and its document to failed and returns cause. A job
// moved on elsewhere is left as stored and errStopped returned.
func (s *session) fail(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document, stepID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	from := job.State
	job.LogError(now, stepID, cause.Error())
	if err := fsm.Job(job, pipeline.JobFailed, now); err != nil {
		return err
	}
	if err := s.saveJob(ctx, job, from); err != nil {
		return err
	}
	if err := s.moveDocument(ctx, doc, pipeline.DocumentFailed); err != nil {
		return err
	}
	s.logger.Error("job %s failed at step %q: %v", job.ID, stepID, cause)
	s.emitter.Emit(ctx, pipeline.ProcessingFailed{
		Document: *doc,
		Job:      *job,
		Campaign: s.campaign(ctx, job.CampaignID),
		Err:      cause,
	})
	return cause
}

// complete is the completion path. It is a no-op on a completed job; a job
// cancelled meanwhile keeps its state and its document.
func (s *session) complete(ctx context.Context, job *pipeline.DocumentJob, doc *pipeline.Document) error {
	if job.State == pipeline.JobCompleted {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	from := job.State
	if err := fsm.Job(job, pipeline.JobCompleted, s.now()); err != nil {
		return err
	}
	if err := s.saveJob(ctx, job, from); err != nil {
		return err
	}
	if err := s.moveDocument(ctx, doc, pipeline.DocumentCompleted); err != nil {
		return err
	}
	s.logger.Info("job %s completed", job.ID)
	s.emitter.Emit(ctx, pipeline.ProcessingCompleted{
		Document: *doc,
		Job:      *job,
		Campaign: s.campaign(ctx, job.CampaignID),
	})
	return nil
}

// moveDocument transitions and saves doc. Being in the target state already
// is a no-op; a transition the document table refuses is logged and
// skipped, since a document outlives its jobs.
func (s *session) moveDocument(ctx context.Context, doc *pipeline.Document, to pipeline.DocumentState) error {
	if doc.State == to {
		return nil
	}
	if !fsm.Documents.Allowed(doc.State, to) {
		s.logger.Warn("document %s stays %s: %s not reachable", doc.ID, doc.State, to)
		return nil
	}
	if err := fsm.Document(doc, to, s.now()); err != nil {
		return err
	}
	return s.repo.SaveDocument(ctx, doc)
}

func (s *session) campaign(ctx context.Context, id string) pipeline.Campaign {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return pipeline.Campaign{ID: id, TenantID: s.tenant.ID}
	}
	return c
}
