package pipeline

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeContext            = "CONTEXT_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeUnknownProcessor   = "UNKNOWN_PROCESSOR"
	ErrCodeCycle              = "CYCLE_ERROR"
	ErrCodeDependency         = "DEPENDENCY_ERROR"
	ErrCodeTransition         = "TRANSITION_ERROR"
	ErrCodeProcessorExecution = "PROCESSOR_EXECUTION_ERROR"
	ErrCodeResume             = "RESUME_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStaleState         = "STALE_STATE"
)

var (
	ErrContext = apperrors.New("tenant context unavailable", apperrors.CategoryConflict).
			WithTextCode(ErrCodeContext)
	ErrConfiguration = apperrors.New("invalid pipeline configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeConfiguration)
	ErrUnknownProcessor = apperrors.New("unknown processor", apperrors.CategoryValidation).
				WithTextCode(ErrCodeUnknownProcessor)
	ErrCycle = apperrors.New("dependency cycle", apperrors.CategoryValidation).
			WithTextCode(ErrCodeCycle)
	ErrDependency = apperrors.New("unmet processor dependencies", apperrors.CategoryConflict).
			WithTextCode(ErrCodeDependency)
	ErrTransition = apperrors.New("invalid state transition", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeTransition)
	ErrProcessorExecution = apperrors.New("processor execution failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeProcessorExecution)
	ErrResume = apperrors.New("durable resume failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeResume)
	ErrNotFound = apperrors.New("record not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeNotFound)
	ErrStaleState = apperrors.New("record changed since it was read", apperrors.CategoryConflict).
			WithTextCode(ErrCodeStaleState)
)

// NewError clones base and attaches message, source and metadata.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrConfiguration
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func NewContextError(message string, source error, metadata map[string]any) *apperrors.Error {
	return NewError(ErrContext, message, source, metadata)
}

func NewConfigurationError(message string, metadata map[string]any) *apperrors.Error {
	return NewError(ErrConfiguration, message, nil, metadata)
}

// NewUnknownProcessorError names the slug that has no registry entry.
func NewUnknownProcessorError(slug string) *apperrors.Error {
	return NewError(
		ErrUnknownProcessor,
		fmt.Sprintf("unknown processor %q", slug),
		nil,
		map[string]any{"processor": slug},
	)
}

// NewCycleError names the dependency path that loops back on itself.
func NewCycleError(path []string) *apperrors.Error {
	return NewError(
		ErrCycle,
		fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
		nil,
		map[string]any{"path": append([]string(nil), path...)},
	)
}

// NewDependencyError names every unmet dependency slug.
func NewDependencyError(slug string, missing []string) *apperrors.Error {
	return NewError(
		ErrDependency,
		fmt.Sprintf("processor %q has unmet dependencies: %s", slug, strings.Join(missing, ", ")),
		nil,
		map[string]any{"processor": slug, "missing": append([]string(nil), missing...)},
	)
}

// NewTransitionError names the machine and the rejected source/target pair.
func NewTransitionError(machine, from, to string) *apperrors.Error {
	return NewError(
		ErrTransition,
		fmt.Sprintf("%s: transition %s -> %s not allowed", machine, from, to),
		nil,
		map[string]any{"machine": machine, "from": from, "to": to},
	)
}

// NewProcessorExecutionError keeps the processor message verbatim as source.
func NewProcessorExecutionError(slug, stepID string, source error) *apperrors.Error {
	msg := fmt.Sprintf("processor %q failed at step %q", slug, stepID)
	if source != nil {
		msg += ": " + source.Error()
	}
	return NewError(
		ErrProcessorExecution,
		msg,
		source,
		map[string]any{"processor": slug, "step_id": stepID},
	)
}

func NewResumeError(message string, source error, metadata map[string]any) *apperrors.Error {
	return NewError(ErrResume, message, source, metadata)
}

// NewNotFoundError names the missing entity kind and id.
func NewNotFoundError(entity, id string) *apperrors.Error {
	return NewError(
		ErrNotFound,
		fmt.Sprintf("%s %q not found", entity, id),
		nil,
		map[string]any{"entity": entity, "id": id},
	)
}

// NewStaleStateError reports a conditional write that found the record in
// another state than the one it was read in.
func NewStaleStateError(entity, id, expected, actual string) *apperrors.Error {
	return NewError(
		ErrStaleState,
		fmt.Sprintf("%s %q is %s, expected %s", entity, id, actual, expected),
		nil,
		map[string]any{"entity": entity, "id": id, "expected": expected, "actual": actual},
	)
}

// ErrorCode returns the first text code found in the error chain.
func ErrorCode(err error) string {
	code := ""
	walkErrors(err, func(ge *apperrors.Error) bool {
		code = ge.TextCode
		return code != ""
	})
	return code
}

func hasCode(err error, codes ...string) bool {
	found := false
	walkErrors(err, func(ge *apperrors.Error) bool {
		for _, code := range codes {
			if ge.TextCode == code {
				found = true
				return true
			}
		}
		return false
	})
	return found
}

// walkErrors visits every *apperrors.Error in the chain, including joined
// errors, until visit returns true.
func walkErrors(err error, visit func(*apperrors.Error) bool) bool {
	for err != nil {
		var ge *apperrors.Error
		if stderrors.As(err, &ge) {
			if visit(ge) {
				return true
			}
			if ge.Source == nil {
				return false
			}
			err = ge.Source
			continue
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if walkErrors(inner, visit) {
					return true
				}
			}
		}
		return false
	}
	return false
}

func IsContextError(err error) bool { return hasCode(err, ErrCodeContext) }

// IsConfigurationError also matches unknown processors and dependency cycles.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration, ErrCodeUnknownProcessor, ErrCodeCycle)
}

func IsUnknownProcessor(err error) bool        { return hasCode(err, ErrCodeUnknownProcessor) }
func IsCycleError(err error) bool              { return hasCode(err, ErrCodeCycle) }
func IsDependencyError(err error) bool         { return hasCode(err, ErrCodeDependency) }
func IsTransitionError(err error) bool         { return hasCode(err, ErrCodeTransition) }
func IsProcessorExecutionError(err error) bool { return hasCode(err, ErrCodeProcessorExecution) }
func IsResumeError(err error) bool             { return hasCode(err, ErrCodeResume) }
func IsNotFound(err error) bool                { return hasCode(err, ErrCodeNotFound) }
func IsStaleState(err error) bool              { return hasCode(err, ErrCodeStaleState) }
