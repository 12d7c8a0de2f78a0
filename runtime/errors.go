package runtime

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine errors by how callers must react.
type ErrorType string

const (
	// ErrorTypeValidation covers bad instance ids, malformed signals and
	// rejected starts. Surfaced synchronously to the caller.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConflict covers expected-status save mismatches and signals
	// arriving for instances not in WAIT. Non-fatal races: the current step
	// aborts and the next scheduled attempt retries.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeTask covers failures of task logic, routed through ERROR
	// transitions before failing the process.
	ErrorTypeTask ErrorType = "task"
	// ErrorTypeFatal covers unrecoverable conditions such as failing to
	// persist a newly created instance. Aborts the triggering operation.
	ErrorTypeFatal ErrorType = "fatal"
)

// EngineError is the canonical error type propagated through the engine.
// It is JSON-serializable so it can be matched by ERROR transition predicates.
type EngineError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	TaskID  string         `json:"taskId,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func (e *EngineError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("[%s/%s] %s (task: %s)", e.Type, e.Code, e.Message, e.TaskID)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Type, e.Code, e.Message)
}

// ToMap converts the error to a map suitable for injection into expr-lang
// predicate contexts and ERROR variable payloads.
func (e *EngineError) ToMap() map[string]any {
	m := map[string]any{
		"type":    string(e.Type),
		"code":    e.Code,
		"message": e.Message,
	}
	if e.TaskID != "" {
		m["taskId"] = e.TaskID
	}
	for k, v := range e.Meta {
		m[k] = v
	}
	return m
}

func NewValidationError(code, format string, args ...any) *EngineError {
	return &EngineError{Type: ErrorTypeValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(code, format string, args ...any) *EngineError {
	return &EngineError{Type: ErrorTypeConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewFatalError(code, format string, args ...any) *EngineError {
	return &EngineError{Type: ErrorTypeFatal, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewTaskFailure converts a task-logic failure into its canonical form. The
// failure classification from a TaskError, if present, lands in Meta.
func NewTaskFailure(taskID string, err error) *EngineError {
	ee := &EngineError{
		Type:    ErrorTypeTask,
		Code:    "TASK_FAILED",
		Message: err.Error(),
		TaskID:  taskID,
	}
	var te *TaskError
	if errors.As(err, &te) {
		ee.Meta = map[string]any{}
		if t := te.GetType(); t != "" {
			ee.Meta["failureType"] = t
		}
		if te.IsRetryable() {
			ee.Meta["retryable"] = true
		}
	}
	return ee
}

// errorOfType reports whether err is (or wraps) an EngineError of type t.
func errorOfType(err error, t ErrorType) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Type == t
}

func IsValidation(err error) bool { return errorOfType(err, ErrorTypeValidation) }
func IsConflict(err error) bool   { return errorOfType(err, ErrorTypeConflict) }
func IsFatal(err error) bool      { return errorOfType(err, ErrorTypeFatal) }
