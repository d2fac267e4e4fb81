package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusCreated       Status = "created"
	StatusChunksCreated Status = "chunks_created"
	StatusTranscribing  Status = "transcribing"
	StatusProcessingNER Status = "processing_ner"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidStatus is returned when an operation is not valid for the
	// job's current status. The job record is left untouched.
	ErrInvalidStatus = errors.New("operation invalid for current job status")
)

// transitions lists the legal forward edges of the status machine. StatusFailed
// is additionally reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusCreated:       {StatusChunksCreated},
	StatusChunksCreated: {StatusTranscribing},
	StatusTranscribing:  {StatusProcessingNER},
	StatusProcessingNER: {StatusCompleted},
	StatusFailed:        {StatusChunksCreated}, // explicit retry only
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return from != StatusCompleted && from != StatusFailed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the root aggregate for one audio-processing request. It is owned
// exclusively by the store; all other pipeline values exist only inside a job
// or as ephemeral intermediates.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Progress  int       `json:"progress"`
	Language  string    `json:"language,omitempty"`

	Chunks               []transcribe.AudioSegment       `json:"chunks,omitempty"`
	TranscriptionResults []transcribe.SegmentTranscript  `json:"transcription_results,omitempty"`
	Transcript           *assemble.AssembledTranscript   `json:"transcript,omitempty"`
	Entities             *entities.Result                `json:"entities,omitempty"`

	Error string `json:"error,omitempty"`
}

// SetStatus applies a validated status transition and stamps UpdatedAt.
func (j *Job) SetStatus(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidStatus
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// CreateParams are the inputs for a new job.
type CreateParams struct {
	Language string
	Chunks   []transcribe.AudioSegment
}

// UpdateFunc mutates a job inside the store's read-modify-write cycle.
// Returning an error aborts the update without persisting anything.
type UpdateFunc func(*Job) error

// Store is the durable job record. Implementations provide atomic
// read-modify-write semantics per job and retention-based expiry.
type Store interface {
	// Create persists a new job in StatusCreated and returns it.
	Create(ctx context.Context, params CreateParams) (*Job, error)

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update atomically applies fn to the job record. Fails with ErrNotFound
	// if the job is absent.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error)

	// MarkFailed moves the job to StatusFailed with a human-readable reason,
	// preserving the last good progress value.
	MarkFailed(ctx context.Context, id, reason string) error

	// MarkCompleted stores the result bundle and moves the job to
	// StatusCompleted with progress 100.
	MarkCompleted(ctx context.Context, id string, transcript *assemble.AssembledTranscript, result *entities.Result) error

	// Retry resets a failed job to StatusChunksCreated and clears its error.
	// Any other status yields ErrInvalidStatus with no side effect.
	Retry(ctx context.Context, id string) (*Job, error)

	// PurgeExpired removes jobs past the retention window (and failed jobs
	// past the shorter failed-job window). Returns the number removed.
	PurgeExpired(ctx context.Context) (int, error)
}

// markFailed is the shared Update body for both store implementations.
func markFailed(reason string, now time.Time) UpdateFunc {
	return func(j *Job) error {
		if err := j.SetStatus(StatusFailed, now); err != nil {
			return err
		}
		j.Error = reason
		return nil
	}
}

// markCompleted is the shared Update body for both store implementations.
func markCompleted(transcript *assemble.AssembledTranscript, result *entities.Result, now time.Time) UpdateFunc {
	return func(j *Job) error {
		if err := j.SetStatus(StatusCompleted, now); err != nil {
			return err
		}
		j.Transcript = transcript
		j.Entities = result
		j.Progress = 100
		j.Error = ""
		return nil
	}
}

// retry is the shared Update body for both store implementations.
func retry(now time.Time) UpdateFunc {
	return func(j *Job) error {
		if j.Status != StatusFailed {
			return ErrInvalidStatus
		}
		if err := j.SetStatus(StatusChunksCreated, now); err != nil {
			return err
		}
		j.Error = ""
		return nil
	}
}

// Retention bounds how long job records are kept.
type Retention struct {
	// All jobs expire after this window regardless of terminal state.
	Jobs time.Duration
	// Failed jobs are proactively purged after this shorter window.
	FailedJobs time.Duration
}

// expired reports whether a job should be purged at time now.
func (r Retention) expired(j *Job, now time.Time) bool {
	if r.Jobs > 0 && now.Sub(j.CreatedAt) > r.Jobs {
		return true
	}
	if r.FailedJobs > 0 && j.Status == StatusFailed && now.Sub(j.UpdatedAt) > r.FailedJobs {
		return true
	}
	return false
}
