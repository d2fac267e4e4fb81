package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
	"github.com/snarg/scribe-engine/internal/jobstore"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

type fakeFetcher struct{}

func (fakeFetcher) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio:" + key)), nil
}

// fakeProvider fails every request whose filename contains one of the fail
// markers and succeeds otherwise.
type fakeProvider struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func (p *fakeProvider) Transcribe(_ context.Context, req transcribe.Request) (*transcribe.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for marker := range p.fail {
		if strings.Contains(req.Filename, marker) {
			return nil, errors.New("provider unavailable")
		}
	}
	return &transcribe.Response{
		Text:       "fala transcrita de " + req.Filename,
		Language:   "pt",
		Confidence: 0.9,
		Segments: []transcribe.FineSegment{
			{Start: 0, End: 5, Text: "fala transcrita de " + req.Filename, Confidence: 0.9, LocalSpeaker: "A"},
		},
	}, nil
}

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Extract(_ context.Context, _ string, _ string) ([]entities.Entity, error) {
	return []entities.Entity{{Text: "sertralina", Category: entities.CategoryMedications, Confidence: 0.9}}, nil
}

// eventRecorder captures published stages in order.
type eventRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (e *eventRecorder) PublishJobEvent(_ string, stage string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, stage)
}

func (e *eventRecorder) seen(stage string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.stages {
		if s == stage {
			return true
		}
	}
	return false
}

func newTestRunner(provider transcribe.Provider, events Events) (*Runner, *jobstore.MemoryStore) {
	store := jobstore.NewMemoryStore(jobstore.Retention{Jobs: 7 * 24 * time.Hour})
	log := zerolog.Nop()
	// MaxRetries 1 keeps failing-provider tests free of backoff sleeps.
	orch := transcribe.NewOrchestrator(provider, fakeFetcher{}, transcribe.Options{
		BatchSize:       2,
		MaxRetries:      1,
		ProgressCeiling: 90,
		Language:        "pt",
	}, log)
	extractor := entities.NewExtractor([]entities.Source{stubSource{}}, entities.Options{}, log)
	return NewRunner(store, orch, extractor, assemble.Options{}, events, log), store
}

func chunks(n int) []transcribe.AudioSegment {
	out := make([]transcribe.AudioSegment, n)
	for i := range out {
		out[i] = transcribe.AudioSegment{
			ID:         fmt.Sprintf("seg-%d", i),
			Index:      i,
			StartTime:  float64(i) * 30,
			EndTime:    float64(i+1) * 30,
			StorageKey: fmt.Sprintf("job/seg-%d.wav", i),
		}
	}
	return out
}

func TestRunnerHappyPath(t *testing.T) {
	events := &eventRecorder{}
	r, _ := newTestRunner(&fakeProvider{}, events)
	ctx := context.Background()

	j, err := r.CreateJob(ctx, jobstore.CreateParams{Language: "pt", Chunks: chunks(3)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != jobstore.StatusChunksCreated {
		t.Fatalf("created status = %s, want %s", j.Status, jobstore.StatusChunksCreated)
	}

	if err := r.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := r.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobstore.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, jobstore.StatusCompleted)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Transcript == nil || len(got.Transcript.Segments) == 0 {
		t.Fatalf("transcript missing: %+v", got.Transcript)
	}
	if len(got.TranscriptionResults) != 3 {
		t.Errorf("transcription results = %d, want 3", len(got.TranscriptionResults))
	}
	if got.Entities == nil || len(got.Entities.Entities[entities.CategoryMedications]) != 1 {
		t.Errorf("entities missing: %+v", got.Entities)
	}

	for _, stage := range []string{"chunks_created", "transcribing", "processing_ner", "completed"} {
		if !events.seen(stage) {
			t.Errorf("missing %q event in %v", stage, events.stages)
		}
	}
}

func TestRunnerDegradedSegmentStillCompletes(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{fail: map[string]bool{"seg-1": true}}, nil)
	ctx := context.Background()

	j, err := r.CreateJob(ctx, jobstore.CreateParams{Chunks: chunks(3)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := r.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := r.GetJob(ctx, j.ID)
	if got.Status != jobstore.StatusCompleted {
		t.Fatalf("status = %s, want completed despite one degraded segment", got.Status)
	}
	placeholder := got.TranscriptionResults[1]
	if placeholder.Text != "" || placeholder.OverallConfidence != 0 {
		t.Errorf("segment 1 should be a placeholder, got %+v", placeholder)
	}
	if got.TranscriptionResults[0].Text == "" || got.TranscriptionResults[2].Text == "" {
		t.Error("healthy segments lost")
	}
}

func TestRunnerAllSegmentsFailedIsTransient(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{fail: map[string]bool{"seg-": true}}, nil)
	ctx := context.Background()

	j, err := r.CreateJob(ctx, jobstore.CreateParams{Chunks: chunks(2)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	err = r.Run(ctx, j.ID)
	var transient *TransientCapabilityError
	if !errors.As(err, &transient) {
		t.Fatalf("Run err = %v, want TransientCapabilityError", err)
	}

	got, _ := r.GetJob(ctx, j.ID)
	if got.Status != jobstore.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.HasPrefix(got.Error, "transcription:") {
		t.Errorf("error = %q, want transcription-stage prefix", got.Error)
	}
}

func TestRunnerRetryAfterFailure(t *testing.T) {
	provider := &fakeProvider{fail: map[string]bool{"seg-": true}}
	r, _ := newTestRunner(provider, nil)
	ctx := context.Background()

	j, err := r.CreateJob(ctx, jobstore.CreateParams{Chunks: chunks(2)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := r.Run(ctx, j.ID); err == nil {
		t.Fatal("first run should fail")
	}

	retried, err := r.Retry(ctx, j.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != jobstore.StatusChunksCreated || retried.Error != "" {
		t.Fatalf("after retry: status=%s error=%q", retried.Status, retried.Error)
	}

	provider.mu.Lock()
	provider.fail = nil
	provider.mu.Unlock()

	if err := r.Run(ctx, j.ID); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got, _ := r.GetJob(ctx, j.ID)
	if got.Status != jobstore.StatusCompleted {
		t.Errorf("status = %s, want completed after retry", got.Status)
	}
}

func TestRunnerRetryOnCompleted(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{}, nil)
	ctx := context.Background()

	j, _ := r.CreateJob(ctx, jobstore.CreateParams{Chunks: chunks(1)})
	if err := r.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, err := r.Retry(ctx, j.ID)
	var invalid *InvalidStatusError
	if !errors.As(err, &invalid) {
		t.Fatalf("Retry on completed = %v, want InvalidStatusError", err)
	}
	if invalid.Status != jobstore.StatusCompleted {
		t.Errorf("error status = %s, want completed", invalid.Status)
	}

	got, _ := r.GetJob(ctx, j.ID)
	if got.Status != jobstore.StatusCompleted || got.Progress != 100 {
		t.Errorf("rejected retry mutated job: %+v", got)
	}
}

func TestRunnerRunOnWrongStatus(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{}, nil)
	ctx := context.Background()

	j, _ := r.CreateJob(ctx, jobstore.CreateParams{Chunks: chunks(1)})
	if err := r.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	err := r.Run(ctx, j.ID)
	var invalid *InvalidStatusError
	if !errors.As(err, &invalid) {
		t.Errorf("second Run = %v, want InvalidStatusError", err)
	}
}

func TestCreateJobValidation(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{}, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		params jobstore.CreateParams
	}{
		{"no_chunks", jobstore.CreateParams{}},
		{"missing_storage_key", jobstore.CreateParams{Chunks: []transcribe.AudioSegment{
			{ID: "seg-0", EndTime: 30},
		}}},
		{"inverted_times", jobstore.CreateParams{Chunks: []transcribe.AudioSegment{
			{ID: "seg-0", StorageKey: "a.wav", StartTime: 30, EndTime: 30},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.CreateJob(ctx, tc.params)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("CreateJob = %v, want ValidationError", err)
			}
		})
	}
}

func TestGetJobMissing(t *testing.T) {
	r, _ := newTestRunner(&fakeProvider{}, nil)
	_, err := r.GetJob(context.Background(), "nope")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("GetJob = %v, want NotFoundError", err)
	}
	if nf.ID != "nope" {
		t.Errorf("error id = %q", nf.ID)
	}
}
