package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-scanner/internal/engine"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

const (
	collaboratorNone      = "none"
	collaboratorGemini    = "gemini"
	collaboratorOllama    = "ollama"
	collaboratorAnthropic = "anthropic"
)

// modelFlags holds the flags selecting and configuring model collaborators
type modelFlags struct {
	structurer        *string
	recognizer        *string
	languages         *string
	geminiKey         *string
	geminiModel       *string
	ollamaURL         *string
	ollamaModel       *string
	ollamaVisionModel *string
	anthropicKey      *string
	anthropicModel    *string
	anthropicURL      *string
}

func registerModelFlags(fs *ff.FlagSet) modelFlags {
	return modelFlags{
		structurer:        fs.StringLong("structurer", collaboratorGemini, "Model that structures receipt text: 'gemini', 'ollama', 'anthropic' or 'none'"),
		recognizer:        fs.StringLong("recognizer", collaboratorGemini, "Model that reads receipt images: 'gemini', 'ollama' or 'none'"),
		languages:         fs.StringLong("ocr-languages", "en", "Comma separated languages expected on receipt images"),
		geminiKey:         fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:       fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:         fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:       fs.StringLong("ollama-model", "llama3.1", "Ollama model for structuring text"),
		ollamaVisionModel: fs.StringLong("ollama-vision-model", "llava", "Ollama model for reading images (e.g., llava, llava-phi3, qwen2-vl)"),
		anthropicKey:      fs.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)"),
		anthropicModel:    fs.StringLong("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model name"),
		anthropicURL:      fs.StringLong("anthropic-url", "", "Anthropic API base URL (optional)"),
	}
}

// modelConfig is the resolved collaborator configuration
type modelConfig struct {
	Structurer        string
	Recognizer        string
	Languages         []string
	GeminiKey         string
	GeminiModel       string
	OllamaURL         string
	OllamaModel       string
	OllamaVisionModel string
	AnthropicKey      string
	AnthropicModel    string
	AnthropicURL      string
}

func (f modelFlags) config() modelConfig {
	cfg := modelConfig{
		Structurer:        strings.ToLower(strings.TrimSpace(*f.structurer)),
		Recognizer:        strings.ToLower(strings.TrimSpace(*f.recognizer)),
		Languages:         splitList(*f.languages),
		GeminiKey:         *f.geminiKey,
		GeminiModel:       *f.geminiModel,
		OllamaURL:         *f.ollamaURL,
		OllamaModel:       *f.ollamaModel,
		OllamaVisionModel: *f.ollamaVisionModel,
		AnthropicKey:      *f.anthropicKey,
		AnthropicModel:    *f.anthropicModel,
		AnthropicURL:      *f.anthropicURL,
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.AnthropicKey == "" {
		cfg.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newStructurer returns the configured model structurer and a func that
// releases it. A nil structurer means only the heuristic parser runs; that
// is also the result when the selected model has no credentials.
func newStructurer(ctx context.Context, cfg modelConfig) (engine.Structurer, func(), error) {
	noop := func() {}

	var gen scanning.Generator
	switch cfg.Structurer {
	case collaboratorNone, "":
		slog.Info("No structuring model configured, using heuristic parser")
		return nil, noop, nil
	case collaboratorGemini:
		if cfg.GeminiKey == "" {
			slog.Warn("Gemini API key not set, using heuristic parser. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			return nil, noop, nil
		}
		g, err := scanning.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.Languages)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gemini: %w", err)
		}
		gen = g
	case collaboratorOllama:
		gen = scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaVisionModel, cfg.Languages)
	case collaboratorAnthropic:
		if cfg.AnthropicKey == "" {
			slog.Warn("Anthropic API key not set, using heuristic parser. Set --anthropic-key flag or ANTHROPIC_API_KEY environment variable")
			return nil, noop, nil
		}
		var opts []option.RequestOption
		if cfg.AnthropicURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.AnthropicURL))
		}
		a, err := scanning.NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing anthropic: %w", err)
		}
		gen = a
	default:
		return nil, nil, fmt.Errorf("invalid structurer %q, use gemini, ollama, anthropic or none", cfg.Structurer)
	}

	slog.Info("Structuring receipts with model", "structurer", cfg.Structurer)
	closeFn := func() {
		if err := gen.Close(); err != nil {
			slog.Warn("Failed to close structurer", "error", err)
		}
	}
	return scanning.NewStructurer(gen), closeFn, nil
}

// newRecognizer returns the configured image recognizer, or nil when image
// uploads are disabled
func newRecognizer(ctx context.Context, cfg modelConfig) (scanning.Recognizer, error) {
	switch cfg.Recognizer {
	case collaboratorNone, "":
		slog.Info("No recognizer configured, image uploads are disabled")
		return nil, nil
	case collaboratorGemini:
		if cfg.GeminiKey == "" {
			slog.Warn("Gemini API key not set, image uploads are disabled. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			return nil, nil
		}
		g, err := scanning.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.Languages)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case collaboratorOllama:
		slog.Info("Reading receipt images with Ollama", "url", cfg.OllamaURL, "model", cfg.OllamaVisionModel)
		return scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaVisionModel, cfg.Languages), nil
	default:
		return nil, fmt.Errorf("invalid recognizer %q, use gemini, ollama or none", cfg.Recognizer)
	}
}
