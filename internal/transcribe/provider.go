package transcribe

import "context"

// AudioSegment describes one time-bounded slice of the source audio, produced
// by the upstream segmentation step. Immutable once created. StartTime and
// EndTime are offsets into the original audio's global timeline and never
// overlap across segments of the same job.
type AudioSegment struct {
	ID              string  `json:"id"`
	Index           int     `json:"index"`
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
	StorageKey      string  `json:"storage_key"`
}

// Word is a timestamped word from the STT provider.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// FineSegment is one provider-level utterance within an audio segment.
// LocalSpeaker is the provider's diarization label, scoped to the owning
// audio segment only — the same label in two audio segments does not imply
// the same person.
type FineSegment struct {
	LocalID      int     `json:"local_id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	Words        []Word  `json:"words,omitempty"`
	LocalSpeaker string  `json:"local_speaker,omitempty"`
}

// SegmentTranscript is the transcription of one audio segment. All timestamps
// are on the global timeline of the source audio by the time the orchestrator
// hands it onward.
type SegmentTranscript struct {
	SegmentID         string        `json:"segment_id"`
	SegmentIndex      int           `json:"segment_index"`
	Text              string        `json:"text"`
	Segments          []FineSegment `json:"segments"`
	OverallConfidence float64       `json:"overall_confidence"`
	DetectedLanguage  string        `json:"detected_language,omitempty"`
}

// Request carries one segment's audio to an STT provider.
type Request struct {
	Audio    []byte
	Filename string
	Language string
	// Prompt is trailing text from previously completed segments, fed as a
	// continuity hint to reduce boundary artifacts.
	Prompt string
}

// Response is the common transcription result from any provider.
type Response struct {
	Text       string
	Language   string
	Duration   float64
	Confidence float64
	Segments   []FineSegment
}

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
	Name() string
	Model() string
}
