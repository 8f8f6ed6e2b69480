package pipeline

import "context"

// Signal type names.
const (
	SignalStageCompleted      = "pipeline.stage_completed"
	SignalProcessingCompleted = "pipeline.processing_completed"
	SignalProcessingFailed    = "pipeline.processing_failed"
	SignalExecutionFailed     = "pipeline.execution_failed"
	SignalTenantActivated     = "tenant.activated"
)

// Signal is a typed event emitted by the engine at a fixed point of its
// control flow.
type Signal interface {
	Type() string
}

// Emitter receives signals. Subscriber failures never reach the emitting
// code.
type Emitter interface {
	Emit(ctx context.Context, sig Signal)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, sig Signal)

func (f EmitterFunc) Emit(ctx context.Context, sig Signal) { f(ctx, sig) }

// NopEmitter drops every signal.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Signal) {}

// StageCompleted is emitted after a step completes and the job advanced.
type StageCompleted struct {
	Job       DocumentJob
	Execution ProcessorExecution
}

func (StageCompleted) Type() string { return SignalStageCompleted }

// ProcessingCompleted is emitted once the job and its document completed.
type ProcessingCompleted struct {
	Document Document
	Job      DocumentJob
	Campaign Campaign
}

func (ProcessingCompleted) Type() string { return SignalProcessingCompleted }

// ProcessingFailed is emitted once the job and its document failed.
type ProcessingFailed struct {
	Document Document
	Job      DocumentJob
	Campaign Campaign
	Err      error
}

func (ProcessingFailed) Type() string { return SignalProcessingFailed }

// ExecutionFailedSignal is emitted when a single step execution failed.
type ExecutionFailedSignal struct {
	Execution ProcessorExecution
	Job       DocumentJob
}

func (ExecutionFailedSignal) Type() string { return SignalExecutionFailed }

// TenantActivated is emitted each time a tenant store becomes active.
type TenantActivated struct {
	Tenant Tenant
}

func (TenantActivated) Type() string { return SignalTenantActivated }
