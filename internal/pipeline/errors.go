// Package pipeline drives a job through its processing stages and defines
// the error taxonomy shared by the HTTP layer.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/snarg/scribe-engine/internal/jobstore"
)

// ValidationError reports malformed or unprocessable input. Not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransientCapabilityError reports an external capability (transcription
// provider, entity source) that failed in a way worth retrying later.
type TransientCapabilityError struct {
	Capability string
	Err        error
}

func (e *TransientCapabilityError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Capability, e.Err)
}

func (e *TransientCapabilityError) Unwrap() error { return e.Err }

// NotFoundError reports a missing job or resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// InvalidStatusError reports an operation attempted against a job whose
// status does not permit it.
type InvalidStatusError struct {
	JobID     string
	Status    jobstore.Status
	Operation string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("job %s: cannot %s while %s", e.JobID, e.Operation, e.Status)
}

// classifyStoreErr lifts sentinel store errors into the taxonomy so the HTTP
// layer can map them without knowing about the store.
func classifyStoreErr(err error, jobID, operation string, status jobstore.Status) error {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return &NotFoundError{Resource: "job", ID: jobID}
	case errors.Is(err, jobstore.ErrInvalidStatus):
		return &InvalidStatusError{JobID: jobID, Status: status, Operation: operation}
	default:
		return err
	}
}
