package entities

import (
	"context"
	"regexp"
	"strings"
)

// DictionaryMatcher is the deterministic extraction source: regex patterns
// for dosage/frequency/duration expressions plus a vocabulary of common
// medication names. It never fails, so it guarantees a floor of entities
// even when the hosted recognizers are down.
type DictionaryMatcher struct {
	patterns []dictPattern
}

type dictPattern struct {
	category   string
	confidence float64
	re         *regexp.Regexp
}

// medicationVocabulary covers the generic names seen most often in primary
// care consultations (Brazilian Portuguese spellings first).
var medicationVocabulary = []string{
	"sertralina", "fluoxetina", "escitalopram", "citalopram", "paroxetina",
	"amitriptilina", "clonazepam", "alprazolam", "diazepam", "zolpidem",
	"dipirona", "paracetamol", "ibuprofeno", "nimesulida", "diclofenaco",
	"amoxicilina", "azitromicina", "cefalexina", "ciprofloxacino",
	"losartana", "enalapril", "captopril", "atenolol", "anlodipino",
	"hidroclorotiazida", "metformina", "glibenclamida", "insulina",
	"omeprazol", "pantoprazol", "ranitidina", "sinvastatina", "atorvastatina",
	"levotiroxina", "prednisona", "dexametasona", "loratadina", "salbutamol",
	"sertraline", "fluoxetine", "metformin", "omeprazole", "ibuprofen",
	"amoxicillin", "lisinopril", "atorvastatin", "levothyroxine",
}

// NewDictionaryMatcher builds the pattern set once.
func NewDictionaryMatcher() *DictionaryMatcher {
	medAlt := strings.Join(medicationVocabulary, "|")
	return &DictionaryMatcher{
		patterns: []dictPattern{
			{
				category:   CategoryMedications,
				confidence: 0.9,
				re:         regexp.MustCompile(`(?i)\b(` + medAlt + `)\b`),
			},
			{
				category:   CategoryDosages,
				confidence: 0.95,
				re:         regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s?(?:mg|mcg|g|ml|ui|gotas?|comprimidos?|cápsulas?|units?)\b`),
			},
			{
				category:   CategoryFrequencies,
				confidence: 0.9,
				re: regexp.MustCompile(`(?i)\b(?:\d+\s?(?:x|vezes)\s?(?:ao|por)\s?dia|a cada \d+\s?horas?|de \d+ em \d+\s?horas?|uma vez (?:ao|por) dia|diariamente|(?:once|twice) (?:a|per) day|every \d+\s?hours?)\b`),
			},
			{
				category:   CategoryTimeframes,
				confidence: 0.85,
				re: regexp.MustCompile(`(?i)\b(?:(?:por|durante|há|faz|for) \d+\s?(?:dias?|semanas?|mês|meses|anos?|days?|weeks?|months?|years?))\b`),
			},
		},
	}
}

func (m *DictionaryMatcher) Name() string { return "dictionary" }

// Extract scans the text with each pattern. Duplicate surface forms within a
// category are emitted once.
func (m *DictionaryMatcher) Extract(_ context.Context, text, _ string) ([]Entity, error) {
	var out []Entity
	for _, p := range m.patterns {
		seen := make(map[string]struct{})
		for _, match := range p.re.FindAllString(text, -1) {
			key := strings.ToLower(strings.TrimSpace(match))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Entity{
				Text:       strings.TrimSpace(match),
				Category:   p.category,
				Confidence: p.confidence,
				Source:     m.Name(),
			})
		}
	}
	return out, nil
}
