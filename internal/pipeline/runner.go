package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
	"github.com/snarg/scribe-engine/internal/jobstore"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Events receives job lifecycle notifications. Implementations must not
// block; a nil Events disables publishing.
type Events interface {
	PublishJobEvent(jobID string, stage string, payload any)
}

// jobEvent is the payload published on every stage change.
type jobEvent struct {
	JobID    string          `json:"job_id"`
	Status   jobstore.Status `json:"status"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
}

// Runner owns the stage hand-off for one job at a time: chunks_created →
// transcribing → processing_ner → completed, with failed reachable from any
// active stage.
type Runner struct {
	store        jobstore.Store
	orchestrator *transcribe.Orchestrator
	extractor    *entities.Extractor
	assembleOpts assemble.Options
	events       Events
	log          zerolog.Logger
}

// NewRunner wires the pipeline stages together. events may be nil.
func NewRunner(store jobstore.Store, orchestrator *transcribe.Orchestrator, extractor *entities.Extractor, assembleOpts assemble.Options, events Events, log zerolog.Logger) *Runner {
	return &Runner{
		store:        store,
		orchestrator: orchestrator,
		extractor:    extractor,
		assembleOpts: assembleOpts,
		events:       events,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// CreateJob validates the request, persists the job, and registers its
// chunks, leaving it in StatusChunksCreated ready to run.
func (r *Runner) CreateJob(ctx context.Context, params jobstore.CreateParams) (*jobstore.Job, error) {
	if len(params.Chunks) == 0 {
		return nil, &ValidationError{Field: "chunks", Reason: "at least one audio chunk is required"}
	}
	for i, c := range params.Chunks {
		if c.StorageKey == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("chunks[%d].storage_key", i), Reason: "must not be empty"}
		}
		if c.EndTime <= c.StartTime {
			return nil, &ValidationError{Field: fmt.Sprintf("chunks[%d]", i), Reason: "end_time must be after start_time"}
		}
	}

	j, err := r.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	j, err = r.advance(ctx, j.ID, jobstore.StatusChunksCreated)
	if err != nil {
		return nil, err
	}
	r.publish(j)
	return j, nil
}

// GetJob returns the job or a NotFoundError.
func (r *Runner) GetJob(ctx context.Context, id string) (*jobstore.Job, error) {
	j, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, classifyStoreErr(err, id, "get", "")
	}
	return j, nil
}

// Retry resets a failed job to StatusChunksCreated. Any other status yields
// an InvalidStatusError and leaves the job untouched.
func (r *Runner) Retry(ctx context.Context, id string) (*jobstore.Job, error) {
	current, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, classifyStoreErr(err, id, "retry", "")
	}
	j, err := r.store.Retry(ctx, id)
	if err != nil {
		return nil, classifyStoreErr(err, id, "retry", current.Status)
	}
	r.publish(j)
	return j, nil
}

// Run drives the job from StatusChunksCreated to a terminal state. A job in
// any other status is rejected with an InvalidStatusError. Segment-level
// transcription failures degrade to placeholders inside the orchestrator, so
// only infrastructure errors fail the job.
func (r *Runner) Run(ctx context.Context, id string) error {
	j, err := r.store.Get(ctx, id)
	if err != nil {
		return classifyStoreErr(err, id, "run", "")
	}
	if j.Status != jobstore.StatusChunksCreated {
		return &InvalidStatusError{JobID: id, Status: j.Status, Operation: "run"}
	}

	log := r.log.With().Str("job_id", id).Logger()
	log.Info().Int("chunks", len(j.Chunks)).Str("language", j.Language).Msg("pipeline started")

	j, err = r.advance(ctx, id, jobstore.StatusTranscribing)
	if err != nil {
		return err
	}
	r.publish(j)

	results, err := r.orchestrator.ProcessSegments(ctx, j.Chunks, func(progress int) {
		r.setProgress(ctx, id, progress)
	})
	if err != nil {
		return r.fail(ctx, id, "transcription", err)
	}
	if allPlaceholders(results) {
		return r.fail(ctx, id, "transcription", &TransientCapabilityError{
			Capability: "transcription provider",
			Err:        errors.New("every segment exhausted its retries"),
		})
	}

	j, err = r.store.Update(ctx, id, func(w *jobstore.Job) error {
		if err := w.SetStatus(jobstore.StatusProcessingNER, w.UpdatedAt); err != nil {
			return err
		}
		w.TranscriptionResults = results
		return nil
	})
	if err != nil {
		return r.fail(ctx, id, "transcription", classifyStoreErr(err, id, "run", ""))
	}
	r.publish(j)

	transcript := assemble.Assemble(results, r.assembleOpts)
	result := r.extractor.Extract(ctx, &transcript, j.Language)

	if err := r.store.MarkCompleted(ctx, id, &transcript, result); err != nil {
		return r.fail(ctx, id, "processing_ner", classifyStoreErr(err, id, "run", ""))
	}

	metrics.JobsCompletedTotal.Inc()
	metrics.AudioSecondsProcessedTotal.Add(transcript.TotalDuration)
	log.Info().
		Float64("duration_s", transcript.TotalDuration).
		Int("speakers", len(transcript.Speakers)).
		Msg("pipeline completed")

	if done, err := r.store.Get(ctx, id); err == nil {
		r.publish(done)
	}
	return nil
}

// advance applies a single validated status transition.
func (r *Runner) advance(ctx context.Context, id string, to jobstore.Status) (*jobstore.Job, error) {
	j, err := r.store.Update(ctx, id, func(w *jobstore.Job) error {
		return w.SetStatus(to, w.UpdatedAt)
	})
	if err != nil {
		return nil, classifyStoreErr(err, id, "run", "")
	}
	return j, nil
}

// setProgress records transcription progress. Failures here are logged and
// dropped: progress is advisory and must never fail the run.
func (r *Runner) setProgress(ctx context.Context, id string, progress int) {
	j, err := r.store.Update(ctx, id, func(w *jobstore.Job) error {
		w.Progress = progress
		return nil
	})
	if err != nil {
		r.log.Warn().Err(err).Str("job_id", id).Msg("progress update dropped")
		return
	}
	r.publish(j)
}

// fail moves the job to StatusFailed with a stage-prefixed reason, keeping
// the last good progress value.
func (r *Runner) fail(ctx context.Context, id, stage string, cause error) error {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	if err := r.store.MarkFailed(ctx, id, reason); err != nil {
		r.log.Error().Err(err).Str("job_id", id).Msg("could not mark job failed")
	}
	metrics.JobsFailedTotal.Inc()
	r.log.Error().Err(cause).Str("job_id", id).Str("stage", stage).Msg("pipeline failed")

	if j, err := r.store.Get(ctx, id); err == nil {
		r.publish(j)
	}
	return cause
}

// allPlaceholders reports whether every transcript is a zero-confidence
// placeholder, which means the provider never produced a usable result.
func allPlaceholders(results []transcribe.SegmentTranscript) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if res.Text != "" || res.OverallConfidence > 0 {
			return false
		}
	}
	return true
}

func (r *Runner) publish(j *jobstore.Job) {
	if r.events == nil {
		return
	}
	r.events.PublishJobEvent(j.ID, string(j.Status), jobEvent{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Error:    j.Error,
	})
}
