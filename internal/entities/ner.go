package entities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NERClient calls a hosted named-entity recognition service over HTTP.
type NERClient struct {
	url    string
	token  string
	domain string
	client *http.Client
}

type nerRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Domain   string `json:"domain"`
}

type nerResponse struct {
	Entities []struct {
		Text       string  `json:"text"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Span       struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"span"`
	} `json:"entities"`
}

// NewNERClient creates a client for the NER service.
func NewNERClient(url, token string, timeout time.Duration) *NERClient {
	return &NERClient{
		url:    url,
		token:  token,
		domain: "healthcare",
		client: &http.Client{Timeout: timeout},
	}
}

func (c *NERClient) Name() string { return "ner" }

// Extract sends the transcript text to the NER service and maps its labels
// to canonical categories.
func (c *NERClient) Extract(ctx context.Context, text, language string) ([]Entity, error) {
	body, err := json.Marshal(nerRequest{Text: text, Language: language, Domain: c.domain})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result nerResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]Entity, 0, len(result.Entities))
	for _, e := range result.Entities {
		if e.Text == "" {
			continue
		}
		out = append(out, Entity{
			Text:       e.Text,
			Category:   CategoryFor(e.Category),
			Confidence: e.Confidence,
			Source:     c.Name(),
		})
	}
	return out, nil
}
