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

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls the Ollama HTTP API. It implements Extractor
// (generate, vision-capable) and Embedder (embed).
type OllamaClient struct {
	baseURL    string
	model      string
	embedModel string
	embedDim   int
	httpClient *http.Client
}

// NewOllamaClient constructs a client with the provided base URL.
func NewOllamaClient(baseURL, model, embedModel string, embedDim int, timeout time.Duration) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      strings.TrimSpace(model),
		embedModel: strings.TrimSpace(embedModel),
		embedDim:   embedDim,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Extract implements Extractor using the generate API.
func (c *OllamaClient) Extract(ctx context.Context, in ExtractInput) (Extraction, error) {
	if c.model == "" {
		return Extraction{}, permanentErr(fmt.Errorf("ollama generation model required"))
	}
	if strings.TrimSpace(in.Text) == "" && len(in.PageImagePNG) == 0 {
		return Extraction{}, permanentErr(fmt.Errorf("extraction input is empty"))
	}
	prompt := buildExtractionPrompt(in.Language, in.PromptOverride)
	if strings.TrimSpace(in.Text) != "" {
		prompt += "\n\nDocument text:\n\n" + in.Text
	} else {
		prompt += "\n\nExtract from the attached page image."
	}
	reqBody := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}
	if len(in.PageImagePNG) > 0 {
		reqBody.Images = []string{base64.StdEncoding.EncodeToString(in.PageImagePNG)}
	}
	var resp ollamaGenerateResponse
	if err := c.doJSON(ctx, "/api/generate", reqBody, &resp); err != nil {
		return Extraction{}, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return Extraction{}, transientErr(fmt.Errorf("empty response from ollama"))
	}
	return parseExtraction(resp.Response, in.Text)
}

// EmbedText implements Embedder using the embed API.
func (c *OllamaClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.embedModel == "" {
		return nil, permanentErr(fmt.Errorf("ollama embedding model required"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, permanentErr(fmt.Errorf("embedding text required"))
	}
	reqBody := ollamaEmbedRequest{Model: c.embedModel, Input: text}
	if c.embedDim > 0 {
		reqBody.Dimensions = c.embedDim
	}
	var resp ollamaEmbedResponse
	if err := c.doJSON(ctx, "/api/embed", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) > 0 {
		return resp.Embeddings[0], nil
	}
	if len(resp.Embedding) > 0 {
		return resp.Embedding, nil
	}
	return nil, transientErr(fmt.Errorf("ollama embed response missing embeddings"))
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return permanentErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return permanentErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transientErr(fmt.Errorf("ollama request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return classifyStatus(resp.StatusCode, fmt.Errorf("ollama api error: %s", msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transientErr(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
