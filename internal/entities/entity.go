package entities

import "context"

// Entity is a domain-specific span of text extracted from the transcript,
// anchored to a range on the audio timeline.
type Entity struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	// Estimated marks entities whose timestamp could not be matched to any
	// assembled segment and was derived from text position instead.
	Estimated bool   `json:"estimated,omitempty"`
	Source    string `json:"source"`
	// Normalized is an optional canonical form (e.g. a drug's generic name).
	Normalized string `json:"normalized,omitempty"`
}

// CategorizedEntities buckets entities by category, each bucket sorted by
// descending confidence.
type CategorizedEntities map[string][]Entity

// Source is one independent entity producer. A failing source contributes
// zero entities; it never aborts extraction as a whole.
type Source interface {
	Extract(ctx context.Context, text, language string) ([]Entity, error)
	Name() string
}

// Canonical categories.
const (
	CategoryMedications = "medications"
	CategoryDosages     = "dosages"
	CategoryFrequencies = "frequencies"
	CategorySymptoms    = "symptoms"
	CategoryConditions  = "conditions"
	CategoryProcedures  = "procedures"
	CategoryTimeframes  = "timeframes"
	CategoryOther       = "other"
)

// labelCategories maps recognizer labels to canonical categories. Unmapped
// labels fall back to CategoryOther.
var labelCategories = map[string]string{
	"MedicationName":     CategoryMedications,
	"Medication":         CategoryMedications,
	"GenericName":        CategoryMedications,
	"BrandName":          CategoryMedications,
	"Dosage":             CategoryDosages,
	"Strength":           CategoryDosages,
	"Frequency":          CategoryFrequencies,
	"SymptomOrSign":      CategorySymptoms,
	"Symptom":            CategorySymptoms,
	"MedicalCondition":   CategoryConditions,
	"DiagnosisName":      CategoryConditions,
	"ProcedureName":      CategoryProcedures,
	"TreatmentName":      CategoryProcedures,
	"Time":               CategoryTimeframes,
	"TimeToEvent":        CategoryTimeframes,
	"Duration":           CategoryTimeframes,
	"medications":        CategoryMedications,
	"dosages":            CategoryDosages,
	"frequencies":        CategoryFrequencies,
	"symptoms":           CategorySymptoms,
	"conditions":         CategoryConditions,
	"procedures":         CategoryProcedures,
	"timeframes":         CategoryTimeframes,
}

// CategoryFor maps a recognizer label to its canonical category.
func CategoryFor(label string) string {
	if c, ok := labelCategories[label]; ok {
		return c
	}
	return CategoryOther
}
