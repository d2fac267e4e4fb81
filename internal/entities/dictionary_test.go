package entities

import (
	"context"
	"testing"
)

func TestDictionaryMatcher(t *testing.T) {
	m := NewDictionaryMatcher()
	text := "Estou tomando sertralina 50mg uma vez ao dia por 2 semanas. A sertralina tem ajudado."

	got, err := m.Extract(context.Background(), text, "pt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	byCat := make(map[string][]string)
	for _, e := range got {
		byCat[e.Category] = append(byCat[e.Category], e.Text)
	}

	if len(byCat[CategoryMedications]) != 1 {
		t.Errorf("medications = %v, want sertralina once despite two mentions", byCat[CategoryMedications])
	}
	if len(byCat[CategoryDosages]) != 1 || byCat[CategoryDosages][0] != "50mg" {
		t.Errorf("dosages = %v, want [50mg]", byCat[CategoryDosages])
	}
	if len(byCat[CategoryFrequencies]) != 1 {
		t.Errorf("frequencies = %v, want one match", byCat[CategoryFrequencies])
	}
	if len(byCat[CategoryTimeframes]) != 1 {
		t.Errorf("timeframes = %v, want one match", byCat[CategoryTimeframes])
	}
}

func TestDictionaryMatcher_NoMatches(t *testing.T) {
	m := NewDictionaryMatcher()
	got, err := m.Extract(context.Background(), "nothing clinical in this sentence", "en")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("entities = %v, want none", got)
	}
}
