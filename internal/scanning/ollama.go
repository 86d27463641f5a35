package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL         = "http://localhost:11434"
	defaultOllamaModel       = "llama3.1"
	defaultOllamaVisionModel = "llava"
)

// Ollama generates text and recognizes receipt images using a local Ollama server.
// Recommended vision models, best first:
//   - llava:1.6
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, less accurate)
type Ollama struct {
	baseURL     string
	model       string
	visionModel string
	languages   []string
	client      *http.Client
}

// NewOllama creates an Ollama client. model answers text prompts and
// visionModel reads images.
func NewOllama(baseURL, model, visionModel string, languages []string) *Ollama {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if visionModel == "" {
		visionModel = defaultOllamaVisionModel
	}

	return &Ollama{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		visionModel: visionModel,
		languages:   languages,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on CPU
		},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate sends a text prompt to the text model and returns the reply
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, ollamaChatRequest{
		Model:  o.model,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt},
		},
	})
}

// RecognizeLines transcribes the text printed on a receipt image or PDF
func (o *Ollama) RecognizeLines(ctx context.Context, imageData []byte, contentType string) ([]Fragment, error) {
	pngData, err := toPNG(imageData, contentType)
	if err != nil {
		return nil, err
	}

	reply, err := o.chat(ctx, ollamaChatRequest{
		Model:  o.visionModel,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: recognizeSystemPrompt},
			{
				Role:    "user",
				Content: recognizePrompt(o.languages),
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return parseFragments(reply), nil
}

func (o *Ollama) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Close is a no-op; the HTTP client holds no resources
func (o *Ollama) Close() error {
	return nil
}
