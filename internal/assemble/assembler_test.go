package assemble

import (
	"math"
	"testing"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

func fine(start, end float64, text, speaker string, conf float64) transcribe.FineSegment {
	return transcribe.FineSegment{Start: start, End: end, Text: text, LocalSpeaker: speaker, Confidence: conf}
}

func TestAssemble_Empty(t *testing.T) {
	got := Assemble(nil, Options{})

	if len(got.Segments) != 0 || got.Segments == nil {
		t.Errorf("Segments = %v, want empty non-nil slice", got.Segments)
	}
	if len(got.Speakers) != 0 || got.Speakers == nil {
		t.Errorf("Speakers = %v, want empty non-nil slice", got.Speakers)
	}
	if got.TotalDuration != 0 || got.OverallConfidence != 0 || got.WordCount != 0 {
		t.Errorf("totals = {%v, %v, %d}, want all zero",
			got.TotalDuration, got.OverallConfidence, got.WordCount)
	}
}

func TestAssemble_SpeakerScopedPerSegment(t *testing.T) {
	// The same local label in two different audio segments is two people.
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{
			fine(0, 2, "good morning", "SPEAKER_00", 0.9),
			fine(2, 4, "hello doctor", "SPEAKER_01", 0.9),
		}},
		{SegmentIndex: 1, Segments: []transcribe.FineSegment{
			fine(30, 32, "any allergies?", "SPEAKER_00", 0.9),
		}},
	}

	got := Assemble(transcripts, Options{})

	if len(got.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(got.Segments))
	}
	if got.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("segment 0 speaker = %q", got.Segments[0].Speaker)
	}
	if got.Segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("segment 1 speaker = %q", got.Segments[1].Speaker)
	}
	if got.Segments[2].Speaker != "SPEAKER_02" {
		t.Errorf("segment 2 speaker = %q, want a fresh global id", got.Segments[2].Speaker)
	}
}

func TestAssemble_UnsortedInputOrderedByIndex(t *testing.T) {
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 1, Segments: []transcribe.FineSegment{fine(30, 32, "second", "A", 0.9)}},
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{fine(0, 2, "first", "A", 0.9)}},
	}

	got := Assemble(transcripts, Options{})

	if got.Segments[0].Text != "first" || got.Segments[1].Text != "second" {
		t.Errorf("segments out of order: %q, %q", got.Segments[0].Text, got.Segments[1].Text)
	}
	for i := 1; i < len(got.Segments); i++ {
		if got.Segments[i].StartTime < got.Segments[i-1].StartTime {
			t.Errorf("StartTime not monotonic at %d", i)
		}
	}
}

func TestAssemble_MergesShortAdjacentSameSpeaker(t *testing.T) {
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{
			fine(0, 2, "I take it", "S0", 0.8),
			fine(2.5, 4, "every morning", "S0", 0.6),
		}},
	}

	got := Assemble(transcripts, Options{})

	if len(got.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1 merged segment", len(got.Segments))
	}
	seg := got.Segments[0]
	if seg.Text != "I take it every morning" {
		t.Errorf("Text = %q", seg.Text)
	}
	if seg.EndTime != 4 {
		t.Errorf("EndTime = %v, want the later segment's end (4)", seg.EndTime)
	}
	if math.Abs(seg.Confidence-0.7) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.7 (average)", seg.Confidence)
	}
}

func TestAssemble_NoMerge(t *testing.T) {
	long := "this sentence is deliberately longer than fifty characters in total"

	cases := []struct {
		name string
		fs   []transcribe.FineSegment
	}{
		{"gap_too_large", []transcribe.FineSegment{
			fine(0, 2, "short", "S0", 0.9),
			fine(3.5, 4, "later", "S0", 0.9),
		}},
		{"different_speaker", []transcribe.FineSegment{
			fine(0, 2, "short", "S0", 0.9),
			fine(2.1, 4, "reply", "S1", 0.9),
		}},
		{"text_too_long", []transcribe.FineSegment{
			fine(0, 2, long, "S0", 0.9),
			fine(2.1, 4, "tail", "S0", 0.9),
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Assemble([]transcribe.SegmentTranscript{{SegmentIndex: 0, Segments: c.fs}}, Options{})
			if len(got.Segments) != 2 {
				t.Errorf("len(Segments) = %d, want 2 (no merge)", len(got.Segments))
			}
		})
	}
}

func TestAssemble_SpeakerAggregates(t *testing.T) {
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{
			fine(0, 10, "the doctor speaks for a while here, quite a while", "DOC", 0.8),
			fine(11, 13, "patient answers briefly with a short reply okay", "PAT", 0.6),
			fine(15, 25, "doctor continues explaining the whole treatment plan", "DOC", 1.0),
		}},
	}

	got := Assemble(transcripts, Options{})

	if len(got.Speakers) != 2 {
		t.Fatalf("len(Speakers) = %d, want 2", len(got.Speakers))
	}
	doc := got.Speakers[0]
	if doc.TotalSpeakingTime != 20 {
		t.Errorf("top speaker time = %v, want 20", doc.TotalSpeakingTime)
	}
	if doc.SegmentCount != 2 {
		t.Errorf("top speaker segments = %d, want 2", doc.SegmentCount)
	}
	if math.Abs(doc.AverageConfidence-0.9) > 1e-9 {
		t.Errorf("top speaker confidence = %v, want 0.9", doc.AverageConfidence)
	}
	if got.Speakers[1].TotalSpeakingTime != 2 {
		t.Errorf("second speaker time = %v, want 2", got.Speakers[1].TotalSpeakingTime)
	}

	if got.TotalDuration != 25 {
		t.Errorf("TotalDuration = %v, want 25", got.TotalDuration)
	}
	wantConf := (0.8 + 0.6 + 1.0) / 3
	if math.Abs(got.OverallConfidence-wantConf) > 1e-9 {
		t.Errorf("OverallConfidence = %v, want %v", got.OverallConfidence, wantConf)
	}
	if got.WordCount != 25 {
		t.Errorf("WordCount = %d, want 25", got.WordCount)
	}
}

func TestAssemble_SkipsEmptyAndPlaceholderSegments(t *testing.T) {
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{fine(0, 2, "hello", "S0", 0.9)}},
		{SegmentIndex: 1, Segments: []transcribe.FineSegment{}}, // degraded placeholder
		{SegmentIndex: 2, Segments: []transcribe.FineSegment{fine(60, 62, "  ", "S0", 0.9)}},
	}

	got := Assemble(transcripts, Options{})
	if len(got.Segments) != 1 {
		t.Errorf("len(Segments) = %d, want 1", len(got.Segments))
	}
}

func TestTranscriptBySpeaker(t *testing.T) {
	transcripts := []transcribe.SegmentTranscript{
		{SegmentIndex: 0, Segments: []transcribe.FineSegment{
			fine(0, 10, "first line of the doctor with plenty of words in it", "DOC", 0.9),
			fine(11, 12, "patient speaks here with their own answer to that", "PAT", 0.9),
			fine(13, 20, "second line of the doctor with plenty of words too", "DOC", 0.9),
		}},
	}

	got := Assemble(transcripts, Options{})
	bySpeaker := got.TranscriptBySpeaker()

	if len(bySpeaker) != 2 {
		t.Fatalf("len = %d, want 2", len(bySpeaker))
	}
	want := "first line of the doctor with plenty of words in it second line of the doctor with plenty of words too"
	if bySpeaker["SPEAKER_00"] != want {
		t.Errorf("SPEAKER_00 transcript = %q", bySpeaker["SPEAKER_00"])
	}
}
