package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

// jsonObject strips markdown fences and surrounding prose from a model reply
// and returns the outermost JSON object
func jsonObject(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// amount accepts a JSON number, a numeric string such as "$1,299.00", or null.
// Strings that are not amounts decode as zero.
type amount struct {
	decimal.Decimal
}

func (a *amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// not a string, so it must be a number
		s = raw
	}
	d, err := extraction.ParseAmount(s)
	if err != nil {
		a.Decimal = decimal.Zero
		return nil
	}
	a.Decimal = d
	return nil
}

type structuredReply struct {
	StoreName     *string     `json:"storeName"`
	Date          *string     `json:"date"`
	Time          *string     `json:"time"`
	TotalAmount   amount      `json:"totalAmount"`
	TaxAmount     amount      `json:"taxAmount"`
	Subtotal      amount      `json:"subtotal"`
	PaymentMethod *string     `json:"paymentMethod"`
	Items         []replyItem `json:"items"`
}

type replyItem struct {
	Name     *string `json:"name"`
	Quantity amount  `json:"quantity"`
	Price    amount  `json:"price"`
	Total    amount  `json:"total"`
}

// fill copies the reply into a record; normalization is left to the caller
func (r structuredReply) fill(e *extraction.Extraction) {
	setString(&e.StoreName, r.StoreName)
	setString(&e.Date, r.Date)
	setString(&e.Time, r.Time)
	setString(&e.PaymentMethod, r.PaymentMethod)
	e.TotalAmount = r.TotalAmount.Decimal
	e.TaxAmount = r.TaxAmount.Decimal
	e.Subtotal = r.Subtotal.Decimal

	for _, item := range r.Items {
		if item.Name == nil {
			continue
		}
		e.Items = append(e.Items, extraction.LineItem{
			Name:     *item.Name,
			Quantity: item.Quantity.Decimal,
			Price:    item.Price.Decimal,
			Total:    item.Total.Decimal,
		})
	}
}

func setString(dst *string, src *string) {
	if src != nil && strings.TrimSpace(*src) != "" {
		*dst = *src
	}
}

type recognizedReply struct {
	Lines []Fragment `json:"lines"`
}

// parseFragments reads the lines a vision model transcribed. Replies that are
// not the requested JSON are taken as plain text, one fragment per line.
func parseFragments(reply string) []Fragment {
	if obj, err := jsonObject(reply); err == nil {
		var r recognizedReply
		if err := json.Unmarshal([]byte(obj), &r); err == nil && r.Lines != nil {
			for i := range r.Lines {
				r.Lines[i].Confidence = min(max(r.Lines[i].Confidence, 0), 1)
			}
			return r.Lines
		}
	}

	var fragments []Fragment
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fragments = append(fragments, Fragment{Text: line})
		}
	}
	return fragments
}
