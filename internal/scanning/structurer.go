package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

const replySchema = `{
  "type": "object",
  "properties": {
    "storeName": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "time": {"type": ["string", "null"]},
    "totalAmount": {"$ref": "#/definitions/amount"},
    "taxAmount": {"$ref": "#/definitions/amount"},
    "subtotal": {"$ref": "#/definitions/amount"},
    "paymentMethod": {"type": ["string", "null"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "quantity": {"$ref": "#/definitions/amount"},
          "price": {"$ref": "#/definitions/amount"},
          "total": {"$ref": "#/definitions/amount"}
        }
      }
    }
  },
  "definitions": {
    "amount": {"type": ["number", "string", "null"]}
  }
}`

var replyValidator = jsonschema.MustCompileString("receipt-reply.json", replySchema)

// Structurer asks a generative model to turn receipt text into a structured
// record. It is safe for concurrent use if its Generator is.
type Structurer struct {
	gen Generator
	now func() time.Time
}

// NewStructurer creates a Structurer backed by gen
func NewStructurer(gen Generator) *Structurer {
	return &Structurer{gen: gen, now: time.Now}
}

// Structure sends the receipt text to the model and returns the normalized
// record built from its reply. Uncategorized; callers assign categories.
func (s *Structurer) Structure(ctx context.Context, text string) (*extraction.Extraction, error) {
	reply, err := s.gen.Generate(ctx, structurePrompt(text))
	if err != nil {
		return nil, fmt.Errorf("generating structure: %w", err)
	}
	slog.Debug("Model reply received", "length", len(reply))

	e, err := s.parse(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing model reply: %w", err)
	}
	return e, nil
}

func (s *Structurer) parse(reply string) (*extraction.Extraction, error) {
	obj, err := jsonObject(reply)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := replyValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("reply does not match schema: %w", err)
	}

	var r structuredReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}

	today := s.now()
	e := extraction.New(today)
	r.fill(e)
	extraction.Normalize(e, today)
	return e, nil
}
