package scanning

import "context"

// Fragment is one line of text read off a receipt image
type Fragment struct {
	Text string `json:"text"`
	// Confidence is the recognizer's certainty in [0, 1], zero when unknown
	Confidence float64 `json:"confidence"`
}

// Recognizer reads the text of a receipt image or PDF
type Recognizer interface {
	// RecognizeLines returns the text fragments in top-to-bottom reading order
	RecognizeLines(ctx context.Context, imageData []byte, contentType string) ([]Fragment, error)
	// Close releases any resources held by the recognizer
	Close() error
}

// Generator sends a text prompt to a generative model
type Generator interface {
	// Generate returns the model's text reply to prompt
	Generate(ctx context.Context, prompt string) (string, error)
	// Close releases any resources held by the generator
	Close() error
}
