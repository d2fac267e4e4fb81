package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

// AssembledSegment is one post-merge unit of the final transcript, attributed
// to a single global speaker. StartTime is monotonically non-decreasing across
// the ordered segment list.
type AssembledSegment struct {
	Speaker    string  `json:"speaker"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Speaker aggregates one global speaker's totals. Recomputed from the final
// segment list on every assembly, never mutated incrementally.
type Speaker struct {
	ID                string  `json:"id"`
	TotalSpeakingTime float64 `json:"total_speaking_time"`
	SegmentCount      int     `json:"segment_count"`
	AverageConfidence float64 `json:"average_confidence"`
}

// AssembledTranscript is the merged, globally speaker-consistent transcript.
type AssembledTranscript struct {
	FullText      string             `json:"full_text"`
	Segments      []AssembledSegment `json:"segments"`
	Speakers      []Speaker          `json:"speakers"`
	TotalDuration float64            `json:"total_duration"`
	// OverallConfidence is the plain mean over assembled segments.
	OverallConfidence float64 `json:"overall_confidence"`
	// WeightedConfidence weights each segment's confidence by its duration.
	WeightedConfidence float64 `json:"weighted_confidence"`
	WordCount          int     `json:"word_count"`
}

// Options tunes the merge step.
type Options struct {
	// MaxMergeGap is the largest silence between two same-speaker fragments
	// that still merges them, in seconds.
	MaxMergeGap float64
	// MaxMergeTextLen is the length both fragments must stay under to merge.
	MaxMergeTextLen int
}

func (o *Options) applyDefaults() {
	if o.MaxMergeGap <= 0 {
		o.MaxMergeGap = 1.0
	}
	if o.MaxMergeTextLen <= 0 {
		o.MaxMergeTextLen = 50
	}
}

// Assemble merges per-segment transcription results into one time-ordered
// transcript with globally consistent speaker identities.
//
// Speaker labels are scoped to their audio segment: the mapping key is
// (segment index, local label), and each first-seen pair gets a fresh global
// id in encounter order. No cross-segment voice clustering is attempted, so a
// speaker's identity resets at segment boundaries. That is the documented
// baseline behavior of the upstream diarizer, not something to paper over.
func Assemble(transcripts []transcribe.SegmentTranscript, opts Options) AssembledTranscript {
	opts.applyDefaults()

	ordered := make([]transcribe.SegmentTranscript, len(transcripts))
	copy(ordered, transcripts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SegmentIndex < ordered[j].SegmentIndex })

	globalIDs := make(map[string]string)
	var merged []AssembledSegment

	for _, st := range ordered {
		for _, fs := range st.Segments {
			text := strings.TrimSpace(fs.Text)
			if text == "" {
				continue
			}

			speaker := globalSpeaker(globalIDs, st.SegmentIndex, fs.LocalSpeaker)

			if n := len(merged); n > 0 && canMerge(&merged[n-1], speaker, fs.Start, text, opts) {
				prev := &merged[n-1]
				prev.EndTime = fs.End
				prev.Text = prev.Text + " " + text
				prev.Confidence = (prev.Confidence + fs.Confidence) / 2
				continue
			}

			merged = append(merged, AssembledSegment{
				Speaker:    speaker,
				StartTime:  fs.Start,
				EndTime:    fs.End,
				Text:       text,
				Confidence: fs.Confidence,
			})
		}
	}

	return summarize(merged)
}

// globalSpeaker returns the global id for a (segment, local label) pair,
// assigning SPEAKER_00, SPEAKER_01, ... in encounter order.
func globalSpeaker(ids map[string]string, segmentIndex int, localLabel string) string {
	key := fmt.Sprintf("%d/%s", segmentIndex, localLabel)
	if id, ok := ids[key]; ok {
		return id
	}
	id := fmt.Sprintf("SPEAKER_%02d", len(ids))
	ids[key] = id
	return id
}

// canMerge applies the fragment fusion rule: same global speaker, gap under
// the threshold, and both texts short.
func canMerge(prev *AssembledSegment, speaker string, start float64, text string, opts Options) bool {
	if prev.Speaker != speaker {
		return false
	}
	if start-prev.EndTime >= opts.MaxMergeGap {
		return false
	}
	return len(prev.Text) < opts.MaxMergeTextLen && len(text) < opts.MaxMergeTextLen
}

// summarize computes speaker aggregates and transcript totals from the final
// segment list. All derived values guard the empty case.
func summarize(segments []AssembledSegment) AssembledTranscript {
	out := AssembledTranscript{
		Segments: segments,
		Speakers: []Speaker{},
	}
	if out.Segments == nil {
		out.Segments = []AssembledSegment{}
	}
	if len(segments) == 0 {
		return out
	}

	byID := make(map[string]*Speaker)
	var order []string
	var parts []string
	var confSum, weightedSum, durSum float64

	for _, seg := range segments {
		sp, ok := byID[seg.Speaker]
		if !ok {
			sp = &Speaker{ID: seg.Speaker}
			byID[seg.Speaker] = sp
			order = append(order, seg.Speaker)
		}
		dur := seg.EndTime - seg.StartTime
		sp.TotalSpeakingTime += dur
		sp.SegmentCount++
		sp.AverageConfidence += seg.Confidence

		parts = append(parts, seg.Text)
		confSum += seg.Confidence
		weightedSum += seg.Confidence * dur
		durSum += dur
		if seg.EndTime > out.TotalDuration {
			out.TotalDuration = seg.EndTime
		}
		out.WordCount += len(strings.Fields(seg.Text))
	}

	for _, id := range order {
		sp := byID[id]
		sp.AverageConfidence /= float64(sp.SegmentCount)
		out.Speakers = append(out.Speakers, *sp)
	}
	sort.SliceStable(out.Speakers, func(i, j int) bool {
		return out.Speakers[i].TotalSpeakingTime > out.Speakers[j].TotalSpeakingTime
	})

	out.FullText = strings.Join(parts, " ")
	out.OverallConfidence = confSum / float64(len(segments))
	if durSum > 0 {
		out.WeightedConfidence = weightedSum / durSum
	}
	return out
}

// TranscriptBySpeaker returns each speaker's lines joined into one string.
func (t *AssembledTranscript) TranscriptBySpeaker() map[string]string {
	byID := make(map[string][]string)
	for _, seg := range t.Segments {
		byID[seg.Speaker] = append(byID[seg.Speaker], seg.Text)
	}
	out := make(map[string]string, len(byID))
	for id, lines := range byID {
		out[id] = strings.Join(lines, " ")
	}
	return out
}
