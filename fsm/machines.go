package fsm

import (
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

// Documents is the document state machine.
var Documents = NewTable("document", pipeline.DocumentPending,
	Transition[pipeline.DocumentState]{pipeline.DocumentPending, pipeline.DocumentQueued},
	Transition[pipeline.DocumentState]{pipeline.DocumentQueued, pipeline.DocumentProcessing},
	Transition[pipeline.DocumentState]{pipeline.DocumentProcessing, pipeline.DocumentCompleted},
	Transition[pipeline.DocumentState]{pipeline.DocumentProcessing, pipeline.DocumentFailed},
	Transition[pipeline.DocumentState]{pipeline.DocumentPending, pipeline.DocumentCancelled},
	Transition[pipeline.DocumentState]{pipeline.DocumentQueued, pipeline.DocumentCancelled},
	Transition[pipeline.DocumentState]{pipeline.DocumentProcessing, pipeline.DocumentCancelled},
)

// Jobs is the document job state machine. failed -> failed is allowed so a
// repeated failure report is harmless.
var Jobs = NewTable("document_job", pipeline.JobPending,
	Transition[pipeline.JobState]{pipeline.JobPending, pipeline.JobQueued},
	Transition[pipeline.JobState]{pipeline.JobQueued, pipeline.JobRunning},
	Transition[pipeline.JobState]{pipeline.JobPending, pipeline.JobRunning},
	Transition[pipeline.JobState]{pipeline.JobRunning, pipeline.JobCompleted},
	Transition[pipeline.JobState]{pipeline.JobRunning, pipeline.JobFailed},
	Transition[pipeline.JobState]{pipeline.JobFailed, pipeline.JobQueued},
	Transition[pipeline.JobState]{pipeline.JobFailed, pipeline.JobFailed},
	Transition[pipeline.JobState]{pipeline.JobPending, pipeline.JobCancelled},
	Transition[pipeline.JobState]{pipeline.JobQueued, pipeline.JobCancelled},
	Transition[pipeline.JobState]{pipeline.JobRunning, pipeline.JobCancelled},
)

// Executions is the processor execution state machine.
var Executions = NewTable("processor_execution", pipeline.ExecutionPending,
	Transition[pipeline.ExecutionState]{pipeline.ExecutionPending, pipeline.ExecutionRunning},
	Transition[pipeline.ExecutionState]{pipeline.ExecutionRunning, pipeline.ExecutionCompleted},
	Transition[pipeline.ExecutionState]{pipeline.ExecutionRunning, pipeline.ExecutionFailed},
	Transition[pipeline.ExecutionState]{pipeline.ExecutionPending, pipeline.ExecutionSkipped},
)

// Document moves doc to the target state and runs its entry action.
func Document(doc *pipeline.Document, to pipeline.DocumentState, now time.Time) error {
	if err := Documents.Check(doc.State, to); err != nil {
		return err
	}
	doc.State = to
	doc.UpdatedAt = now
	if to == pipeline.DocumentCompleted {
		stamp(&doc.ProcessedAt, now)
	}
	return nil
}

// Job moves job to the target state. started_at is stamped on the first
// entry to running only, so a retry keeps the original start time.
func Job(job *pipeline.DocumentJob, to pipeline.JobState, now time.Time) error {
	if err := Jobs.Check(job.State, to); err != nil {
		return err
	}
	job.State = to
	job.UpdatedAt = now
	switch to {
	case pipeline.JobRunning:
		stamp(&job.StartedAt, now)
	case pipeline.JobCompleted:
		stamp(&job.CompletedAt, now)
	}
	return nil
}

// Execution moves exec to the target state, stamping start and completion
// times and the duration once both exist.
func Execution(exec *pipeline.ProcessorExecution, to pipeline.ExecutionState, now time.Time) error {
	if err := Executions.Check(exec.State, to); err != nil {
		return err
	}
	exec.State = to
	switch to {
	case pipeline.ExecutionRunning:
		stamp(&exec.StartedAt, now)
	case pipeline.ExecutionCompleted, pipeline.ExecutionFailed:
		stamp(&exec.CompletedAt, now)
		if exec.StartedAt != nil && exec.DurationMS == nil {
			ms := exec.CompletedAt.Sub(*exec.StartedAt).Milliseconds()
			exec.DurationMS = &ms
		}
	}
	return nil
}
