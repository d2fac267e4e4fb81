// Package render turns an assembled transcript into the delivery formats:
// plain text, SubRip (SRT), WebVTT, and a structured JSON record.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/snarg/scribe-engine/internal/assemble"
)

// Format names accepted by the result endpoint.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
)

// ValidFormat reports whether name is a renderable format.
func ValidFormat(name string) bool {
	switch name {
	case FormatJSON, FormatText, FormatSRT, FormatVTT:
		return true
	}
	return false
}

// Text renders a human-readable transcript. Consecutive segments from the
// same speaker collapse into one block headed by the speaker label and the
// block's start timestamp.
func Text(t *assemble.AssembledTranscript) string {
	if len(t.Segments) == 0 {
		return ""
	}

	var b strings.Builder
	var blockSpeaker string
	first := true

	for _, seg := range t.Segments {
		if first || seg.Speaker != blockSpeaker {
			if !first {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[%s] %s:", clockTimestamp(seg.StartTime), seg.Speaker)
			blockSpeaker = seg.Speaker
			first = false
		}
		b.WriteString("\n")
		b.WriteString(seg.Text)
	}
	b.WriteString("\n")
	return b.String()
}

// SRT renders SubRip cues, one per assembled segment, numbered from 1.
// Timestamps use the comma millisecond separator the format requires.
func SRT(t *assemble.AssembledTranscript) string {
	var b strings.Builder
	for i, seg := range t.Segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s: %s\n",
			i+1,
			srtTimestamp(seg.StartTime),
			srtTimestamp(seg.EndTime),
			seg.Speaker,
			seg.Text,
		)
	}
	return b.String()
}

// VTT renders a WebVTT document with voice spans carrying the speaker label.
func VTT(t *assemble.AssembledTranscript) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range t.Segments {
		fmt.Fprintf(&b, "\n%s --> %s\n<v %s>%s\n",
			vttTimestamp(seg.StartTime),
			vttTimestamp(seg.EndTime),
			seg.Speaker,
			seg.Text,
		)
	}
	return b.String()
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ",")
}

// vttTimestamp formats seconds as HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ".")
}

func formatTimestamp(seconds float64, msSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	millis := totalMillis % 1000
	totalSecs := totalMillis / 1000
	secs := totalSecs % 60
	mins := (totalSecs / 60) % 60
	hours := totalSecs / 3600
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, mins, secs, msSep, millis)
}

// clockTimestamp formats seconds as H:MM:SS or M:SS for the text rendering.
func clockTimestamp(seconds float64) string {
	totalSecs := int64(math.Round(seconds))
	secs := totalSecs % 60
	mins := (totalSecs / 60) % 60
	hours := totalSecs / 3600
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}
