// Package engine turns recognized receipt text into a categorized
// extraction. It tries the model-assisted structurer first, falls back to
// the heuristic parser, and never fails: problems are reported through the
// record's status and message.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/receipt-scanner/internal/categorize"
	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/heuristic"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

const (
	// DefaultTimeout bounds a single structurer call
	DefaultTimeout = 30 * time.Second

	MessageNoText       = "No text detected"
	MessageNoImageText  = "No text detected in image"
	MessageUnrecognized = "Recognizer could not recognize text"
)

// Structurer builds a record from receipt text using a generative model
type Structurer interface {
	Structure(ctx context.Context, text string) (*extraction.Extraction, error)
}

// Parser builds a record from receipt lines without any external calls
type Parser interface {
	Parse(lines []string, today time.Time) *extraction.Extraction
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Engine runs the extraction pipeline. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	categorizer *categorize.Categorizer
	structurer  Structurer
	parser      Parser
	timeout     time.Duration
	timeSource  TimeSource
}

// New creates an Engine with the heuristic parser as fallback. A nil
// structurer sends every receipt straight to the heuristic parser.
func New(categorizer *categorize.Categorizer, structurer Structurer, timeout time.Duration) *Engine {
	return NewWithDeps(categorizer, structurer, timeout, heuristic.NewParser(), &defaultTimeSource{})
}

// NewWithDeps creates an Engine with custom dependencies for testing
func NewWithDeps(categorizer *categorize.Categorizer, structurer Structurer, timeout time.Duration, parser Parser, timeSrc TimeSource) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		categorizer: categorizer,
		structurer:  structurer,
		parser:      parser,
		timeout:     timeout,
		timeSource:  timeSrc,
	}
}

// Categories returns the categories items can be assigned
func (e *Engine) Categories() []string {
	return e.categorizer.Categories()
}

// ProcessText splits text into lines and processes them
func (e *Engine) ProcessText(ctx context.Context, text string) *extraction.Extraction {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return e.Process(ctx, strings.Split(text, "\n"))
}

// ProcessFragments processes the output of a Recognizer in reading order
func (e *Engine) ProcessFragments(ctx context.Context, fragments []scanning.Fragment) *extraction.Extraction {
	if len(fragments) == 0 {
		slog.Warn("No text detected in image")
		return extraction.Failed(e.timeSource.Now(), MessageNoImageText)
	}

	texts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		texts = append(texts, f.Text)
	}
	if !hasText(texts) {
		slog.Warn("Recognizer returned only blank fragments", "fragments", len(fragments))
		return extraction.Failed(e.timeSource.Now(), MessageUnrecognized)
	}
	// a fragment may span several printed lines
	return e.ProcessText(ctx, strings.Join(texts, "\n"))
}

// Process builds a categorized record from receipt lines. It always returns
// a complete record; Status and Message report how it went.
func (e *Engine) Process(ctx context.Context, lines []string) (result *extraction.Extraction) {
	today := e.timeSource.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Extraction failed", "panic", r)
			result = extraction.Failed(today, fmt.Sprintf("extraction failed: %v", r))
		}
	}()

	if !hasText(lines) {
		return extraction.Failed(today, MessageNoText)
	}

	result = e.structure(ctx, lines, today)
	extraction.Normalize(result, today)
	e.categorizer.Apply(result.Items)

	result.Status = extraction.StatusSuccess
	result.Message = fmt.Sprintf("Receipt processed successfully. %d items extracted.", len(result.Items))
	slog.Info("Receipt processed", "store", result.StoreName, "total", result.TotalAmount.StringFixed(2), "items", len(result.Items))
	return result
}

func (e *Engine) structure(ctx context.Context, lines []string, today time.Time) *extraction.Extraction {
	if e.structurer != nil {
		result, err := e.structureWithTimeout(ctx, strings.Join(lines, "\n"))
		if err == nil && result != nil {
			return result
		}
		slog.Warn("Model structuring failed, using heuristic parser", "error", err)
	}
	return e.parser.Parse(lines, today)
}

type structured struct {
	result *extraction.Extraction
	err    error
	panic  any
}

// structureWithTimeout returns once the structurer answers or the timeout
// passes, even if the structurer ignores its context. A panic in the
// structurer is returned as an error.
func (e *Engine) structureWithTimeout(ctx context.Context, text string) (*extraction.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan structured, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- structured{panic: r}
			}
		}()
		result, err := e.structurer.Structure(ctx, text)
		done <- structured{result: result, err: err}
	}()

	select {
	case s := <-done:
		if s.panic != nil {
			return nil, fmt.Errorf("structurer panicked: %v", s.panic)
		}
		return s.result, s.err
	case <-ctx.Done():
		return nil, fmt.Errorf("structuring receipt: %w", ctx.Err())
	}
}

func hasText(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}
