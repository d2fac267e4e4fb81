package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// Servers running WhisperX-style diarization attach a speaker label to each
// segment of the verbose_json response; plain Whisper servers leave it empty.
type WhisperClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the parsed verbose_json response from the Whisper API.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
		Speaker    string  `json:"speaker"`
		Words      []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends segment audio to the Whisper API and returns the result.
// Uses multipart/form-data with verbose_json output so segment and word
// timestamps come back. Only non-default parameters are sent.
func (wc *WhisperClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "segment.wav"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}

	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	w.WriteField("language", lang)

	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "word")

	if req.Prompt != "" {
		w.WriteField("prompt", req.Prompt)
	}

	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return parseWhisperResponse(&result), nil
}

// parseWhisperResponse converts the wire format into the provider-neutral
// Response, turning avg_logprob into a 0..1 confidence.
func parseWhisperResponse(wr *whisperResponse) *Response {
	out := &Response{
		Text:     strings.TrimSpace(wr.Text),
		Language: wr.Language,
		Duration: wr.Duration,
	}

	var confSum float64
	for i, s := range wr.Segments {
		fine := FineSegment{
			LocalID:      s.ID,
			Start:        s.Start,
			End:          s.End,
			Text:         strings.TrimSpace(s.Text),
			Confidence:   confidenceFromLogprob(s.AvgLogprob),
			LocalSpeaker: s.Speaker,
		}
		if fine.LocalID == 0 && i > 0 {
			fine.LocalID = i
		}
		for _, wd := range s.Words {
			fine.Words = append(fine.Words, Word{Word: wd.Word, Start: wd.Start, End: wd.End})
		}
		confSum += fine.Confidence
		out.Segments = append(out.Segments, fine)
	}
	if n := len(wr.Segments); n > 0 {
		out.Confidence = confSum / float64(n)
	}
	return out
}

// confidenceFromLogprob maps Whisper's avg_logprob (<= 0) to a 0..1 score.
func confidenceFromLogprob(lp float64) float64 {
	if lp > 0 {
		return 1
	}
	c := math.Exp(lp)
	if c > 1 {
		return 1
	}
	return c
}
