package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// LLMExtractor uses a chat-completion model as a third, generative extraction
// source. It is optional: the extractor only registers it when an API key is
// configured.
type LLMExtractor struct {
	client *openai.Client
	model  string
}

const llmSystemPrompt = `You extract clinical entities from consultation transcripts.
Return ONLY a JSON array, no prose. Each element:
{"text": "<exact span from the transcript>", "label": "<MedicationName|Dosage|Frequency|SymptomOrSign|MedicalCondition|ProcedureName|TimeToEvent>", "confidence": <0..1>}
Extract medications, dosages, frequencies, symptoms, conditions, procedures and timeframes. Use the transcript's language.`

type llmEntity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewLLMExtractor creates the generative extraction source.
func NewLLMExtractor(apiKey, model string) *LLMExtractor {
	return &LLMExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (l *LLMExtractor) Name() string { return "llm" }

// Extract asks the model for a strict-JSON entity list and maps its labels
// to canonical categories.
func (l *LLMExtractor) Extract(ctx context.Context, text, language string) ([]Entity, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Language: %s\n\nTranscript:\n%s", language, text)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	raw, err := parseLLMEntities(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	out := make([]Entity, 0, len(raw))
	for _, e := range raw {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		out = append(out, Entity{
			Text:       strings.TrimSpace(e.Text),
			Category:   CategoryFor(e.Label),
			Confidence: conf,
			Source:     l.Name(),
		})
	}
	return out, nil
}

// parseLLMEntities decodes the model output, tolerating markdown code fences
// around the JSON array.
func parseLLMEntities(content string) ([]llmEntity, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "["); i >= 0 {
		if j := strings.LastIndex(content, "]"); j > i {
			content = content[i : j+1]
		}
	}

	var out []llmEntity
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode llm entities: %w", err)
	}
	return out, nil
}
