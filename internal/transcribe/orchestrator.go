package transcribe

import (
	"context"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// AudioFetcher retrieves segment audio bytes by storage key.
// Satisfied by storage.AudioStore.
type AudioFetcher interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configures the orchestrator.
type Options struct {
	// BatchSize bounds concurrency: segments are transcribed in batches of
	// this size, and the next batch starts only once the whole batch is done.
	BatchSize int
	// MaxRetries is the number of transcription attempts per segment before
	// it degrades to a zero-confidence placeholder.
	MaxRetries int
	// ProgressCeiling reserves headroom for downstream stages: progress after
	// the final batch is this value, not 100.
	ProgressCeiling int
	Language        string
	// RequestTimeout bounds each provider call.
	RequestTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.ProgressCeiling <= 0 {
		o.ProgressCeiling = 90
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 600 * time.Second
	}
}

// ProgressFunc receives the 0-100 progress value after each batch.
type ProgressFunc func(progress int)

// Orchestrator transcribes an ordered set of audio segments with bounded
// concurrency and per-segment retry. One bad segment never fails the run:
// a segment that exhausts its retries yields an empty zero-confidence result.
type Orchestrator struct {
	provider Provider
	fetch    AudioFetcher
	opts     Options
	log      zerolog.Logger

	// sleep is swapped out by tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a transcription orchestrator.
func NewOrchestrator(provider Provider, fetch AudioFetcher, opts Options, log zerolog.Logger) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		provider: provider,
		fetch:    fetch,
		opts:     opts,
		log:      log,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProcessSegments transcribes all segments and returns one transcript per
// segment, ordered by segment index regardless of completion order. All
// timestamps in the results are on the global timeline of the source audio.
func (o *Orchestrator) ProcessSegments(ctx context.Context, segments []AudioSegment, onProgress ProgressFunc) ([]SegmentTranscript, error) {
	if len(segments) == 0 {
		return []SegmentTranscript{}, nil
	}

	ordered := make([]AudioSegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	total := len(ordered)
	results := make([]SegmentTranscript, total)
	completed := 0
	hint := ""

	for start := 0; start < total; start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + o.opts.BatchSize
		if end > total {
			end = total
		}

		batchStart := time.Now()
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Each goroutine writes only its own slot, so the shared
				// slice needs no locking.
				results[i] = o.transcribeSegment(ctx, ordered[i], hint)
			}(i)
		}
		wg.Wait()
		metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())

		completed = end
		if onProgress != nil {
			onProgress(progressValue(completed, total, o.opts.ProgressCeiling))
		}
		hint = continuityHint(results[:completed])
	}

	return results, nil
}

// progressValue computes round(completed/total * ceiling).
func progressValue(completed, total, ceiling int) int {
	return int(math.Round(float64(completed) / float64(total) * float64(ceiling)))
}

// transcribeSegment runs the retry loop for one segment. Exhausted retries
// degrade to a placeholder instead of propagating the error.
func (o *Orchestrator) transcribeSegment(ctx context.Context, seg AudioSegment, hint string) SegmentTranscript {
	log := o.log.With().Str("segment_id", seg.ID).Int("index", seg.Index).Logger()

	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.SegmentRetriesTotal.Inc()
		}

		st, err := o.attempt(ctx, seg, hint)
		if err == nil {
			metrics.SegmentsTranscribedTotal.Inc()
			return st
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("transcription attempt failed")

		if attempt < o.opts.MaxRetries {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			if err := o.sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	metrics.SegmentsFailedTotal.Inc()
	log.Error().Int("attempts", o.opts.MaxRetries).Msg("segment degraded to empty placeholder")
	return SegmentTranscript{
		SegmentID:    seg.ID,
		SegmentIndex: seg.Index,
		Segments:     []FineSegment{},
	}
}

// attempt performs one fetch+transcribe round trip.
func (o *Orchestrator) attempt(ctx context.Context, seg AudioSegment, hint string) (SegmentTranscript, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	rc, err := o.fetch.Open(callCtx, seg.StorageKey)
	if err != nil {
		return SegmentTranscript{}, err
	}
	audio, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return SegmentTranscript{}, err
	}

	resp, err := o.provider.Transcribe(callCtx, Request{
		Audio:    audio,
		Filename: seg.StorageKey,
		Language: o.opts.Language,
		Prompt:   hint,
	})
	if err != nil {
		return SegmentTranscript{}, err
	}

	return toGlobalTimeline(seg, resp), nil
}

// toGlobalTimeline shifts all provider timestamps by the segment's offset into
// the source audio. Every timestamp leaving the orchestrator is global.
func toGlobalTimeline(seg AudioSegment, resp *Response) SegmentTranscript {
	fine := make([]FineSegment, len(resp.Segments))
	for i, fs := range resp.Segments {
		fs.Start += seg.StartTime
		fs.End += seg.StartTime
		words := make([]Word, len(fs.Words))
		for j, w := range fs.Words {
			w.Start += seg.StartTime
			w.End += seg.StartTime
			words[j] = w
		}
		fs.Words = words
		fine[i] = fs
	}

	return SegmentTranscript{
		SegmentID:         seg.ID,
		SegmentIndex:      seg.Index,
		Text:              resp.Text,
		Segments:          fine,
		OverallConfidence: resp.Confidence,
		DetectedLanguage:  resp.Language,
	}
}

// maxHintLen caps the continuity prompt so it stays well inside Whisper's
// prompt token budget.
const maxHintLen = 400

// continuityHint builds the prompt for the next batch from the trailing lines
// of the last two non-empty completed transcripts.
func continuityHint(done []SegmentTranscript) string {
	var tails []string
	for i := len(done) - 1; i >= 0 && len(tails) < 2; i-- {
		if line := trailingLine(done[i].Text); line != "" {
			tails = append([]string{line}, tails...)
		}
	}
	hint := strings.Join(tails, " ")
	if len(hint) > maxHintLen {
		hint = hint[len(hint)-maxHintLen:]
	}
	return hint
}

// trailingLine returns the last non-blank line of text.
func trailingLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
