package render

import (
	"time"

	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
)

// Record is the structured result document served as JSON. It bundles the
// assembled transcript with the categorized entities, the conversational
// sections, and per-job processing stats.
type Record struct {
	JobID       string    `json:"job_id"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`

	FullText            string                      `json:"full_text"`
	Segments            []assemble.AssembledSegment `json:"segments"`
	Speakers            []assemble.Speaker          `json:"speakers"`
	TranscriptBySpeaker map[string]string           `json:"transcript_by_speaker"`

	Entities entities.CategorizedEntities `json:"entities"`
	Sections []entities.Section           `json:"sections,omitempty"`

	Stats RecordStats `json:"stats"`
}

// RecordStats summarizes the processing outcome.
type RecordStats struct {
	TotalDuration      float64 `json:"total_duration_seconds"`
	SegmentCount       int     `json:"segment_count"`
	SpeakerCount       int     `json:"speaker_count"`
	WordCount          int     `json:"word_count"`
	EntityCount        int     `json:"entity_count"`
	OverallConfidence  float64 `json:"overall_confidence"`
	WeightedConfidence float64 `json:"weighted_confidence"`
	ProcessingSeconds  float64 `json:"processing_seconds"`
}

// RecordParams carries the job-level fields the record needs alongside the
// pipeline outputs.
type RecordParams struct {
	JobID       string
	Language    string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// BuildRecord assembles the structured result from the pipeline outputs.
func BuildRecord(params RecordParams, transcript *assemble.AssembledTranscript, result *entities.Result) *Record {
	rec := &Record{
		JobID:               params.JobID,
		Language:            params.Language,
		CreatedAt:           params.CreatedAt,
		CompletedAt:         params.CompletedAt,
		FullText:            transcript.FullText,
		Segments:            transcript.Segments,
		Speakers:            transcript.Speakers,
		TranscriptBySpeaker: transcript.TranscriptBySpeaker(),
		Entities:            entities.CategorizedEntities{},
		Stats: RecordStats{
			TotalDuration:      transcript.TotalDuration,
			SegmentCount:       len(transcript.Segments),
			SpeakerCount:       len(transcript.Speakers),
			WordCount:          transcript.WordCount,
			OverallConfidence:  transcript.OverallConfidence,
			WeightedConfidence: transcript.WeightedConfidence,
			ProcessingSeconds:  params.CompletedAt.Sub(params.CreatedAt).Seconds(),
		},
	}
	if result != nil {
		rec.Entities = result.Entities
		rec.Sections = result.Sections
		for _, bucket := range result.Entities {
			rec.Stats.EntityCount += len(bucket)
		}
	}
	return rec
}
