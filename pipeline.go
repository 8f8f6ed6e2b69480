// Package pipeline holds the domain model shared by the document pipeline
// engine: tenants, campaigns and their frozen processor configuration,
// documents, jobs and per-step executions, plus the processor contract and
// the typed signals the engine emits.
//
// The sub-packages implement the moving parts:
//
//	tenant      per-execution tenant context (activate / restore)
//	connection  tenant store location, creation and schema repair
//	store       tenant-scoped repositories
//	fsm         document, job and execution state machines
//	processor   processor registry and per-tenant provider
//	dependency  declared-dependency checks and ordering
//	hooks       before/after/failure observers
//	engine      the pipeline engine
//	signal      typed signal bus for external subscribers
//	runner      timeout and retry wrapper for a unit of work
//	durable     resume adapter, checkpoints and sweeper
//	config      application configuration
//	logging     go-logger adapter
package pipeline

import (
	"strings"
	"time"
)

// StorePrefix is prepended to a tenant id to name its physical store.
const StorePrefix = "tenant_"

// StoreName returns the deterministic store name for a tenant id.
func StoreName(tenantID string) string {
	return StorePrefix + strings.TrimSpace(tenantID)
}

// Tenant is an isolated customer organization owning exactly one store.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreName returns the tenant store name (tenant_<id>).
func (t Tenant) StoreName() string {
	return StoreName(t.ID)
}

// DocumentState is the persisted document state name.
type DocumentState string

const (
	DocumentPending    DocumentState = "pending"
	DocumentQueued     DocumentState = "queued"
	DocumentProcessing DocumentState = "processing"
	DocumentCompleted  DocumentState = "completed"
	DocumentFailed     DocumentState = "failed"
	DocumentCancelled  DocumentState = "cancelled"
)

// JobState is the persisted document job state name.
type JobState string

const (
	JobPending   JobState = "pending"
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further steps may start for the job.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ExecutionState is the persisted processor execution state name.
type ExecutionState string

const (
	ExecutionPending   ExecutionState = "pending"
	ExecutionRunning   ExecutionState = "running"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionSkipped   ExecutionState = "skipped"
)

// Campaign owns an ordered pipeline configuration.
type Campaign struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Pipeline  PipelineConfig `json:"pipeline"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Document is an uploaded file processed by a campaign pipeline.
type Document struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	CampaignID      string        `json:"campaign_id"`
	Filename        string        `json:"filename"`
	ContentHash     string        `json:"content_hash"`
	MimeType        string        `json:"mime_type"`
	Size            int64         `json:"size"`
	StorageLocation string        `json:"storage_location"`
	State           DocumentState `json:"state"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ErrorEntry is one line of a job error log.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message"`
}

// DocumentJob is one pipeline run for one document. Pipeline is the
// configuration snapshot taken when the job was created.
type DocumentJob struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	DocumentID  string         `json:"document_id"`
	CampaignID  string         `json:"campaign_id"`
	Pipeline    PipelineConfig `json:"pipeline"`
	StepIndex   int            `json:"step_index"`
	State       JobState       `json:"state"`
	Error       string         `json:"error,omitempty"`
	ErrorLog    []ErrorEntry   `json:"error_log,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasMoreSteps reports whether the step index still points inside the pipeline.
func (j *DocumentJob) HasMoreSteps() bool {
	return j != nil && j.StepIndex < len(j.Pipeline.Processors)
}

// CurrentStep returns the step at the job's step index.
func (j *DocumentJob) CurrentStep() (StepConfig, bool) {
	if !j.HasMoreSteps() || j.StepIndex < 0 {
		return StepConfig{}, false
	}
	return j.Pipeline.Processors[j.StepIndex], true
}

// LogError appends an entry to the error log and sets the visible error.
func (j *DocumentJob) LogError(at time.Time, stepID, message string) {
	if j == nil {
		return
	}
	message = strings.TrimSpace(message)
	j.Error = message
	j.ErrorLog = append(j.ErrorLog, ErrorEntry{At: at, StepID: stepID, Message: message})
}

// ProcessorExecution is one step attempt within a job. Retries append new
// records, history is never rewritten.
type ProcessorExecution struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	StepID        string         `json:"step_id"`
	StepIndex     int            `json:"step_index"`
	ProcessorSlug string         `json:"processor_slug"`
	Sequence      int            `json:"sequence"`
	State         ExecutionState `json:"state"`
	Config        map[string]any `json:"config,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	TokensUsed    int64          `json:"tokens_used"`
	Cost          float64        `json:"cost"`
	Error         string         `json:"error,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// CompletedSlugs returns the processor slugs with a completed execution in
// history, in first-completion order.
func CompletedSlugs(history []ProcessorExecution) []string {
	seen := make(map[string]struct{}, len(history))
	out := make([]string, 0, len(history))
	for _, exec := range history {
		if exec.State != ExecutionCompleted {
			continue
		}
		if _, ok := seen[exec.ProcessorSlug]; ok {
			continue
		}
		seen[exec.ProcessorSlug] = struct{}{}
		out = append(out, exec.ProcessorSlug)
	}
	return out
}

// StepOutputs returns the latest completed output per step id.
func StepOutputs(history []ProcessorExecution) map[string]map[string]any {
	out := make(map[string]map[string]any, len(history))
	for _, exec := range history {
		if exec.State != ExecutionCompleted {
			continue
		}
		out[exec.StepID] = copyMap(exec.Output)
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
