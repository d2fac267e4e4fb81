package render

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Cue is one parsed subtitle entry.
type Cue struct {
	Index     int
	StartTime float64
	EndTime   float64
	Text      string
}

// ParseSRT parses a SubRip document back into cues. Multi-line cue text is
// joined with newlines. Malformed blocks abort the parse with an error naming
// the offending cue.
func ParseSRT(doc string) ([]Cue, error) {
	var cues []Cue
	sc := bufio.NewScanner(strings.NewReader(doc))

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		index, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("cue %d: bad index line %q", len(cues)+1, line)
		}

		if !sc.Scan() {
			return nil, fmt.Errorf("cue %d: missing timing line", index)
		}
		start, end, err := parseTimingLine(strings.TrimSpace(sc.Text()))
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", index, err)
		}

		var textLines []string
		for sc.Scan() {
			t := strings.TrimRight(sc.Text(), "\r")
			if strings.TrimSpace(t) == "" {
				break
			}
			textLines = append(textLines, t)
		}
		if len(textLines) == 0 {
			return nil, fmt.Errorf("cue %d: empty text", index)
		}

		cues = append(cues, Cue{
			Index:     index,
			StartTime: start,
			EndTime:   end,
			Text:      strings.Join(textLines, "\n"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad timing line %q", line)
	}
	start, err := parseSRTTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSRTTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseSRTTimestamp reads HH:MM:SS,mmm into seconds.
func parseSRTTimestamp(ts string) (float64, error) {
	var hours, mins, secs, millis int
	if _, err := fmt.Sscanf(ts, "%d:%d:%d,%d", &hours, &mins, &secs, &millis); err != nil {
		return 0, fmt.Errorf("bad timestamp %q", ts)
	}
	if mins > 59 || secs > 59 || millis > 999 {
		return 0, fmt.Errorf("timestamp %q out of range", ts)
	}
	return float64(hours)*3600 + float64(mins)*60 + float64(secs) + float64(millis)/1000, nil
}
