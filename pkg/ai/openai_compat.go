package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatClient calls any OpenAI-compatible API. Works with vLLM,
// LiteLLM, LocalAI, OpenRouter, self-hosted models, etc. It implements both
// Extractor (chat completions, vision-capable) and Embedder (/embeddings).
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	embedDim   int
	httpClient *http.Client
}

// NewOpenAICompatClient builds a client. baseURL should include the /v1
// prefix, e.g. "http://localhost:8000/v1". apiKey can be empty for local
// models that do not require authentication.
func NewOpenAICompatClient(baseURL, apiKey, model, embedModel string, embedDim int, timeout time.Duration) *OpenAICompatClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompatClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		embedModel: strings.TrimSpace(embedModel),
		embedDim:   embedDim,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Extract implements Extractor using the chat completions API.
func (c *OpenAICompatClient) Extract(ctx context.Context, in ExtractInput) (Extraction, error) {
	if c.model == "" {
		return Extraction{}, permanentErr(fmt.Errorf("generation model required"))
	}
	if strings.TrimSpace(in.Text) == "" && len(in.PageImagePNG) == 0 {
		return Extraction{}, permanentErr(fmt.Errorf("extraction input is empty"))
	}

	var parts []oaiContentPart
	if strings.TrimSpace(in.Text) != "" {
		parts = append(parts, oaiContentPart{Type: "text", Text: "Document text:\n\n" + in.Text})
	} else {
		parts = append(parts, oaiContentPart{Type: "text", Text: "Extract from the attached page image."})
	}
	if len(in.PageImagePNG) > 0 {
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(in.PageImagePNG)
		parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: uri}})
	}

	reqBody := oaiChatRequest{
		Model: c.model,
		Messages: []oaiMessage{
			{Role: "system", Content: buildExtractionPrompt(in.Language, in.PromptOverride)},
			{Role: "user", ContentParts: parts},
		},
	}
	var chatResp oaiChatResponse
	if err := c.doJSON(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return Extraction{}, err
	}
	if len(chatResp.Choices) == 0 {
		return Extraction{}, transientErr(fmt.Errorf("empty response from api"))
	}
	return parseExtraction(chatResp.Choices[0].Message.Content, in.Text)
}

// EmbedText implements Embedder using the embeddings API.
func (c *OpenAICompatClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.embedModel == "" {
		return nil, permanentErr(fmt.Errorf("embedding model required"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, permanentErr(fmt.Errorf("embedding text required"))
	}
	reqBody := oaiEmbedRequest{Model: c.embedModel, Input: []string{text}}
	if c.embedDim > 0 {
		reqBody.Dimensions = c.embedDim
	}
	var resp oaiEmbedResponse
	if err := c.doJSON(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, transientErr(fmt.Errorf("embed response missing embedding"))
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAICompatClient) doJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return permanentErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return permanentErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transientErr(fmt.Errorf("api request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return classifyStatus(resp.StatusCode, fmt.Errorf("api error: %s", msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transientErr(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// OpenAI-compatible request/response types. Message content is either a
// plain string or a part list (vision input); MarshalJSON picks the shape.

type oaiMessage struct {
	Role         string
	Content      string
	ContentParts []oaiContentPart
}

func (m oaiMessage) MarshalJSON() ([]byte, error) {
	if len(m.ContentParts) > 0 {
		return json.Marshal(struct {
			Role    string           `json:"role"`
			Content []oaiContentPart `json:"content"`
		}{m.Role, m.ContentParts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type oaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
