package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/jobstore"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/render"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// maxChunkUploadBytes bounds a single chunk upload body.
const maxChunkUploadBytes = 100 << 20

// JobsHandler serves the job lifecycle endpoints.
type JobsHandler struct {
	runner *pipeline.Runner
	audio  storage.AudioStore
	// runCtx outlives individual requests; background pipeline runs are tied
	// to it so they stop on server shutdown, not when the client disconnects.
	runCtx context.Context
	log    zerolog.Logger
}

func NewJobsHandler(runner *pipeline.Runner, audio storage.AudioStore, runCtx context.Context, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		runner: runner,
		audio:  audio,
		runCtx: runCtx,
		log:    log.With().Str("component", "jobs-api").Logger(),
	}
}

type chunkRequest struct {
	ID         string  `json:"id"`
	Index      int     `json:"index"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	StorageKey string  `json:"storage_key,omitempty"`
}

type createJobRequest struct {
	Language string         `json:"language,omitempty"`
	Chunks   []chunkRequest `json:"chunks"`
}

type jobResponse struct {
	ID        string          `json:"id"`
	Status    jobstore.Status `json:"status"`
	Progress  int             `json:"progress"`
	Language  string          `json:"language,omitempty"`
	Chunks    int             `json:"chunks"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Error     string          `json:"error,omitempty"`
}

func toJobResponse(j *jobstore.Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Language:  j.Language,
		Chunks:    len(j.Chunks),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Error:     j.Error,
	}
}

// Create registers a new job with its chunk layout. Chunks without a storage
// key get one assigned under a fresh upload prefix; their audio is expected
// through the chunk upload endpoint before processing starts.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	uploadPrefix := uuid.NewString()
	chunks := make([]transcribe.AudioSegment, len(req.Chunks))
	for i, c := range req.Chunks {
		key := c.StorageKey
		if key == "" {
			key = fmt.Sprintf("%s/%s.wav", uploadPrefix, c.ID)
		}
		chunks[i] = transcribe.AudioSegment{
			ID:              c.ID,
			Index:           c.Index,
			StartTime:       c.StartTime,
			EndTime:         c.EndTime,
			DurationSeconds: c.EndTime - c.StartTime,
			SizeBytes:       c.SizeBytes,
			StorageKey:      key,
		}
	}

	j, err := h.runner.CreateJob(r.Context(), jobstore.CreateParams{
		Language: req.Language,
		Chunks:   chunks,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	h.log.Info().Str("job_id", j.ID).Int("chunks", len(j.Chunks)).Msg("job created")
	WriteJSON(w, http.StatusCreated, toJobResponse(j))
}

// Get returns the job's current status and progress.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.runner.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toJobResponse(j))
}

// UploadChunk stores audio for one registered chunk under its storage key.
func (h *JobsHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	chunkID := chi.URLParam(r, "chunkID")

	j, err := h.runner.GetJob(r.Context(), jobID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	var key string
	for _, c := range j.Chunks {
		if c.ID == chunkID {
			key = c.StorageKey
			break
		}
	}
	if key == "" {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("chunk %q not registered on job %s", chunkID, jobID))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkUploadBytes))
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "could not read chunk body", err.Error())
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty chunk body")
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/wav"
	}
	if err := h.audio.Save(r.Context(), key, data, ct); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("chunk save failed")
		WriteError(w, http.StatusInternalServerError, "could not store chunk")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":      jobID,
		"chunk_id":    chunkID,
		"storage_key": key,
		"size_bytes":  len(data),
	})
}

// Process starts the pipeline for a job in the background.
func (h *JobsHandler) Process(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	j, err := h.runner.GetJob(r.Context(), jobID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if j.Status != jobstore.StatusChunksCreated {
		writePipelineError(w, &pipeline.InvalidStatusError{JobID: jobID, Status: j.Status, Operation: "process"})
		return
	}

	h.startRun(jobID)
	WriteJSON(w, http.StatusAccepted, toJobResponse(j))
}

// Retry resets a failed job and immediately re-runs it.
func (h *JobsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	j, err := h.runner.Retry(r.Context(), jobID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	h.startRun(jobID)
	WriteJSON(w, http.StatusAccepted, toJobResponse(j))
}

// Result serves the finished job in the requested format. Default is the
// structured JSON record.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	j, err := h.runner.GetJob(r.Context(), jobID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if j.Status != jobstore.StatusCompleted || j.Transcript == nil {
		writePipelineError(w, &pipeline.InvalidStatusError{JobID: jobID, Status: j.Status, Operation: "fetch result"})
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = render.FormatJSON
	}
	if !render.ValidFormat(format) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}

	switch format {
	case render.FormatJSON:
		rec := render.BuildRecord(render.RecordParams{
			JobID:       j.ID,
			Language:    j.Language,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.UpdatedAt,
		}, j.Transcript, j.Entities)
		WriteJSON(w, http.StatusOK, rec)
	case render.FormatText:
		writeDocument(w, "text/plain; charset=utf-8", render.Text(j.Transcript))
	case render.FormatSRT:
		writeDocument(w, "application/x-subrip", render.SRT(j.Transcript))
	case render.FormatVTT:
		writeDocument(w, "text/vtt; charset=utf-8", render.VTT(j.Transcript))
	}
}

func (h *JobsHandler) startRun(jobID string) {
	go func() {
		if err := h.runner.Run(h.runCtx, jobID); err != nil {
			h.log.Error().Err(err).Str("job_id", jobID).Msg("background run failed")
		}
	}()
}

func writeDocument(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

// writePipelineError maps the pipeline error taxonomy onto HTTP status codes.
func writePipelineError(w http.ResponseWriter, err error) {
	var (
		validation *pipeline.ValidationError
		notFound   *pipeline.NotFoundError
		invalid    *pipeline.InvalidStatusError
		transient  *pipeline.TransientCapabilityError
	)
	switch {
	case errors.As(err, &validation):
		WriteError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &invalid):
		WriteError(w, http.StatusConflict, invalid.Error())
	case errors.As(err, &transient):
		WriteError(w, http.StatusServiceUnavailable, transient.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
