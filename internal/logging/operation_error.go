package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OperationError ties a failure to the pipeline step and job it happened in.
type OperationError struct {
	Operation string
	JobID     string
	Err       error
}

// NewOperationError wraps err with the operation and job id. A nil err stays nil.
func NewOperationError(operation, jobID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, JobID: jobID, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.JobID != "" {
		return fmt.Sprintf("%s (job_id=%s): %v", e.Operation, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MarshalLogObject lets zap log the error as {operation, job_id, cause}.
func (e *OperationError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", e.Operation)
	if e.JobID != "" {
		enc.AddString("job_id", e.JobID)
	}
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}

// Logger returns base enriched with the error's operation and job id.
func (e *OperationError) Logger(base *zap.Logger) *zap.Logger {
	return WithOperation(base, e.Operation, e.JobID)
}

// JobIDFrom returns the job id of the outermost OperationError in err's chain
// that carries one, or "".
func JobIDFrom(err error) string {
	for err != nil {
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			return ""
		}
		if opErr.JobID != "" {
			return opErr.JobID
		}
		err = opErr.Err
	}
	return ""
}

// ErrorField renders err for zap, structured when it is an OperationError.
func ErrorField(err error) zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return zap.Object("error", opErr)
	}
	return zap.Error(err)
}
