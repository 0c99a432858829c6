package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const defaultExtractionPrompt = `You extract structured knowledge from documents.
Respond with a single JSON object and nothing else:
{
  "title": "short descriptive title",
  "summary": "2-3 sentence summary",
  "text": "full plain text of the document (only when the input is an image)",
  "structured_data": {"key": "value", "...": "..."}
}
Put dates, amounts, reference numbers, sender and similar facts into
structured_data. Use the document's own language for title and summary
unless instructed otherwise.`

func buildExtractionPrompt(language, override string) string {
	prompt := strings.TrimSpace(override)
	if prompt == "" {
		prompt = defaultExtractionPrompt
	}
	if language != "" {
		prompt += fmt.Sprintf("\nAnswer in language: %s.", language)
	}
	return prompt
}

type extractionPayload struct {
	Title          string            `json:"title"`
	Summary        string            `json:"summary"`
	Text           string            `json:"text"`
	StructuredData map[string]string `json:"structured_data"`
}

// parseExtraction decodes the model's JSON answer. Models wrap JSON in
// markdown fences often enough that those are stripped first. A reply that
// still fails to decode is a permanent failure.
func parseExtraction(raw, inputText string) (Extraction, error) {
	cleaned := stripFences(raw)
	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return Extraction{}, permanentErr(fmt.Errorf("decode extraction: %w", err))
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		text = inputText
	}
	if strings.TrimSpace(text) == "" {
		return Extraction{}, permanentErr(fmt.Errorf("extraction produced no text"))
	}
	data := payload.StructuredData
	if data == nil {
		data = map[string]string{}
	}
	return Extraction{
		Text:           text,
		Title:          strings.TrimSpace(payload.Title),
		Summary:        strings.TrimSpace(payload.Summary),
		StructuredData: data,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
