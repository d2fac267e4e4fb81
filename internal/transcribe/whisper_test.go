package transcribe

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	var gotLanguage, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		if r.FormValue("response_format") != "verbose_json" {
			t.Errorf("response_format = %q", r.FormValue("response_format"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":     " Bom dia, doutora. ",
			"language": "pt",
			"duration": 4.2,
			"segments": []map[string]any{
				{
					"id": 0, "start": 0.0, "end": 2.0, "text": " Bom dia, ",
					"avg_logprob": -0.1, "speaker": "SPEAKER_00",
					"words": []map[string]any{
						{"word": "Bom", "start": 0.0, "end": 0.6},
						{"word": "dia,", "start": 0.6, "end": 1.1},
					},
				},
				{
					"id": 1, "start": 2.0, "end": 4.2, "text": " doutora. ",
					"avg_logprob": -0.3, "speaker": "SPEAKER_01",
				},
			},
		})
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "large-v3", 5*time.Second)
	resp, err := wc.Transcribe(context.Background(), Request{
		Audio:    []byte("RIFF"),
		Language: "pt",
		Prompt:   "continuidade",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotLanguage != "pt" {
		t.Errorf("language field = %q, want pt", gotLanguage)
	}
	if gotPrompt != "continuidade" {
		t.Errorf("prompt field = %q", gotPrompt)
	}
	if resp.Text != "Bom dia, doutora." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(resp.Segments))
	}
	if resp.Segments[0].LocalSpeaker != "SPEAKER_00" || resp.Segments[1].LocalSpeaker != "SPEAKER_01" {
		t.Errorf("speakers = %q, %q", resp.Segments[0].LocalSpeaker, resp.Segments[1].LocalSpeaker)
	}
	if len(resp.Segments[0].Words) != 2 {
		t.Errorf("len(words) = %d, want 2", len(resp.Segments[0].Words))
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0, 1]", resp.Confidence)
	}
}

func TestWhisperClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "large-v3", 5*time.Second)
	if _, err := wc.Transcribe(context.Background(), Request{Audio: []byte("x")}); err == nil {
		t.Error("expected error on 503 response")
	}
}

func TestConfidenceFromLogprob(t *testing.T) {
	if got := confidenceFromLogprob(0); got != 1 {
		t.Errorf("confidenceFromLogprob(0) = %v, want 1", got)
	}
	if got := confidenceFromLogprob(0.5); got != 1 {
		t.Errorf("positive logprob should clamp to 1, got %v", got)
	}
	got := confidenceFromLogprob(-1)
	if math.Abs(got-math.Exp(-1)) > 1e-9 {
		t.Errorf("confidenceFromLogprob(-1) = %v, want e^-1", got)
	}
}
