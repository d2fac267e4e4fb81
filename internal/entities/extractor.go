package entities

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// Options tunes merge and anchoring thresholds.
type Options struct {
	// DedupThreshold is the token-set similarity above which two same-category
	// entities from different sources collapse into one.
	DedupThreshold float64
	// AnchorThreshold is the minimum similarity between entity text and a
	// segment's text for the segment to anchor the entity's timestamps.
	AnchorThreshold float64
}

func (o *Options) applyDefaults() {
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = 0.8
	}
	if o.AnchorThreshold <= 0 {
		o.AnchorThreshold = 0.3
	}
}

// Result is the full extraction output.
type Result struct {
	Entities CategorizedEntities `json:"entities"`
	Sections []Section           `json:"sections"`
}

// Extractor runs independent entity sources over an assembled transcript,
// merges and deduplicates their outputs, and anchors each survivor to the
// audio timeline.
type Extractor struct {
	sources []Source
	opts    Options
	log     zerolog.Logger
}

// NewExtractor creates an extractor over the given sources.
func NewExtractor(sources []Source, opts Options, log zerolog.Logger) *Extractor {
	opts.applyDefaults()
	return &Extractor{sources: sources, opts: opts, log: log}
}

// Extract runs all sources in parallel over the transcript's full text.
// A failing source is logged and contributes nothing; extraction only comes
// back empty when every source fails or finds nothing.
func (e *Extractor) Extract(ctx context.Context, transcript *assemble.AssembledTranscript, language string) *Result {
	perSource := make([][]Entity, len(e.sources))

	var wg sync.WaitGroup
	for i, src := range e.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			found, err := src.Extract(ctx, transcript.FullText, language)
			if err != nil {
				metrics.EntitySourceFailuresTotal.WithLabelValues(src.Name()).Inc()
				e.log.Warn().Err(err).Str("source", src.Name()).Msg("entity source failed, contributing zero entities")
				return
			}
			perSource[i] = found
		}(i, src)
	}
	wg.Wait()

	var all []Entity
	for _, found := range perSource {
		all = append(all, found...)
	}

	survivors := e.dedup(all)
	for i := range survivors {
		e.anchor(&survivors[i], transcript)
		metrics.EntitiesExtractedTotal.WithLabelValues(survivors[i].Source).Inc()
	}

	return &Result{
		Entities: categorize(survivors),
		Sections: BuildSections(transcript, survivors),
	}
}

// dedup collapses same-category entities whose texts are near-duplicates,
// keeping the higher-confidence instance and back-filling fields the
// discarded one uniquely had.
func (e *Extractor) dedup(all []Entity) []Entity {
	var survivors []Entity

	for _, cand := range all {
		merged := false
		for i := range survivors {
			s := &survivors[i]
			if s.Category != cand.Category {
				continue
			}
			if TokenSimilarity(s.Text, cand.Text) <= e.opts.DedupThreshold {
				continue
			}

			if cand.Confidence > s.Confidence {
				keepNormalized := s.Normalized
				*s = cand
				if s.Normalized == "" {
					s.Normalized = keepNormalized
				}
			} else if s.Normalized == "" {
				s.Normalized = cand.Normalized
			}
			merged = true
			break
		}
		if !merged {
			survivors = append(survivors, cand)
		}
	}
	return survivors
}

// anchor finds the assembled segment whose text best matches the entity and
// takes its time range. With no match above the threshold the timestamp is
// estimated from the entity's position in the full text and marked as such —
// completeness over precision.
func (e *Extractor) anchor(ent *Entity, transcript *assemble.AssembledTranscript) {
	bestScore := 0.0
	bestIdx := -1
	for i, seg := range transcript.Segments {
		score := TokenSimilarity(ent.Text, seg.Text)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestScore > e.opts.AnchorThreshold {
		ent.StartTime = transcript.Segments[bestIdx].StartTime
		ent.EndTime = transcript.Segments[bestIdx].EndTime
		return
	}

	ent.Estimated = true
	ent.StartTime = estimateTimestamp(ent.Text, transcript)
	ent.EndTime = ent.StartTime
}

// estimateTimestamp maps the entity's character position in the full text
// proportionally onto the audio duration.
func estimateTimestamp(text string, transcript *assemble.AssembledTranscript) float64 {
	full := transcript.FullText
	if len(full) == 0 || transcript.TotalDuration == 0 {
		return 0
	}
	idx := strings.Index(strings.ToLower(full), strings.ToLower(text))
	if idx < 0 {
		return 0
	}
	return float64(idx) / float64(len(full)) * transcript.TotalDuration
}

// categorize buckets entities by category, each bucket sorted by descending
// confidence.
func categorize(entities []Entity) CategorizedEntities {
	out := make(CategorizedEntities)
	for _, e := range entities {
		out[e.Category] = append(out[e.Category], e)
	}
	for cat := range out {
		bucket := out[cat]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Confidence > bucket[j].Confidence
		})
	}
	return out
}
