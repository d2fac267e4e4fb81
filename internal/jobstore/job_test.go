package jobstore

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"created_to_chunks", StatusCreated, StatusChunksCreated, true},
		{"chunks_to_transcribing", StatusChunksCreated, StatusTranscribing, true},
		{"transcribing_to_ner", StatusTranscribing, StatusProcessingNER, true},
		{"ner_to_completed", StatusProcessingNER, StatusCompleted, true},
		{"created_to_failed", StatusCreated, StatusFailed, true},
		{"transcribing_to_failed", StatusTranscribing, StatusFailed, true},
		{"failed_retry", StatusFailed, StatusChunksCreated, true},
		{"skip_a_stage", StatusChunksCreated, StatusProcessingNER, false},
		{"backwards", StatusTranscribing, StatusChunksCreated, false},
		{"completed_to_failed", StatusCompleted, StatusFailed, false},
		{"completed_is_terminal", StatusCompleted, StatusTranscribing, false},
		{"failed_to_failed", StatusFailed, StatusFailed, false},
		{"failed_to_completed", StatusFailed, StatusCompleted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusChunksCreated, StatusTranscribing, StatusProcessingNER} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
