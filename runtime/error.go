package runtime

// TaskError wraps task handler failures with metadata so handlers can report
// retry hints and failure categories alongside the error. ERROR transition
// predicates can match on the metadata via the task's ERROR variable.
type TaskError struct {
	Err      error          // The underlying error
	Metadata map[string]any // retryable, retry_after, type, metrics, ...
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "task completed with metadata"
}

// Unwrap returns the underlying error for errors.Is and errors.As
func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a new task error with the given underlying error
func NewTaskError(err error) *TaskError {
	return &TaskError{
		Err:      err,
		Metadata: make(map[string]any),
	}
}

// WithMetadata adds metadata to the error
func (e *TaskError) WithMetadata(key string, value any) *TaskError {
	e.Metadata[key] = value
	return e
}

// WithRetryHint adds retry hint metadata
func (e *TaskError) WithRetryHint(retryable bool, retryAfter string) *TaskError {
	e.Metadata["retryable"] = retryable
	if retryAfter != "" {
		e.Metadata["retry_after"] = retryAfter
	}
	return e
}

// WithType sets the error type (e.g., "transient", "permanent", "user_error")
func (e *TaskError) WithType(errorType string) *TaskError {
	e.Metadata["type"] = errorType
	return e
}

// IsRetryable checks if the error is marked as retryable
func (e *TaskError) IsRetryable() bool {
	if val, ok := e.Metadata["retryable"]; ok {
		if retryable, ok := val.(bool); ok {
			return retryable
		}
	}
	return false
}

// GetRetryAfter returns the retry_after duration if set
func (e *TaskError) GetRetryAfter() string {
	if val, ok := e.Metadata["retry_after"]; ok {
		if retryAfter, ok := val.(string); ok {
			return retryAfter
		}
	}
	return ""
}

// GetType returns the error type if set
func (e *TaskError) GetType() string {
	if val, ok := e.Metadata["type"]; ok {
		if errorType, ok := val.(string); ok {
			return errorType
		}
	}
	return ""
}
