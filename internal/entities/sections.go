package entities

import (
	"regexp"

	"github.com/snarg/scribe-engine/internal/assemble"
)

// Section groups the transcript segments belonging to one conversational
// phase of the consultation, with the entities whose time range falls inside
// the phase's span.
type Section struct {
	Phase     string                      `json:"phase"`
	StartTime float64                     `json:"start_time"`
	EndTime   float64                     `json:"end_time"`
	Segments  []assemble.AssembledSegment `json:"segments"`
	Entities  []Entity                    `json:"entities"`
}

type phasePattern struct {
	phase string
	re    *regexp.Regexp
}

// Phase patterns are evaluated in consultation order; the first match wins
// for each segment.
var phasePatterns = []phasePattern{
	{"greeting", regexp.MustCompile(`(?i)\b(bom dia|boa tarde|boa noite|olá|oi|tudo bem|good morning|good afternoon|hello)\b`)},
	{"chief_complaint", regexp.MustCompile(`(?i)\b(o que (o|a|te) traz|queixa|estou sentindo|estou com|venho sentindo|what brings you|main (complaint|concern)|i('ve| have) been (feeling|having))\b`)},
	{"history", regexp.MustCompile(`(?i)\b(há quanto tempo|desde quando|já teve|histórico|alergia|medicamentos? em uso|how long|since when|history of|allerg)\b`)},
	{"exam", regexp.MustCompile(`(?i)\b(vou (te )?examinar|exame físico|pressão arterial|ausculta|vou medir|let me examine|blood pressure|physical exam)\b`)},
	{"plan", regexp.MustCompile(`(?i)\b(vou (prescrever|receitar|passar)|receita|tratamento|tome|retorno em|encaminhar|prescri|treatment plan|follow[- ]up|i('ll| will) prescribe)\b`)},
	{"closing", regexp.MustCompile(`(?i)\b(melhoras|até (logo|a próxima)|qualquer coisa me procure|obrigad[ao]|thank you|take care|goodbye)\b`)},
}

// BuildSections assigns each assembled segment to the first phase whose
// pattern matches it, then attaches entities by time containment. Segments
// matching no phase are left out; phases with no segments are omitted.
func BuildSections(transcript *assemble.AssembledTranscript, entities []Entity) []Section {
	byPhase := make(map[string]*Section)
	var order []string

	for _, seg := range transcript.Segments {
		phase := matchPhase(seg.Text)
		if phase == "" {
			continue
		}
		sec, ok := byPhase[phase]
		if !ok {
			sec = &Section{Phase: phase, StartTime: seg.StartTime, EndTime: seg.EndTime}
			byPhase[phase] = sec
			order = append(order, phase)
		}
		if seg.StartTime < sec.StartTime {
			sec.StartTime = seg.StartTime
		}
		if seg.EndTime > sec.EndTime {
			sec.EndTime = seg.EndTime
		}
		sec.Segments = append(sec.Segments, seg)
	}

	out := make([]Section, 0, len(order))
	for _, phase := range order {
		sec := byPhase[phase]
		for _, e := range entities {
			if e.StartTime >= sec.StartTime && e.EndTime <= sec.EndTime {
				sec.Entities = append(sec.Entities, e)
			}
		}
		out = append(out, *sec)
	}
	return out
}

func matchPhase(text string) string {
	for _, p := range phasePatterns {
		if p.re.MatchString(text) {
			return p.phase
		}
	}
	return ""
}
