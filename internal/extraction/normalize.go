package extraction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Normalize enforces the record invariants in place: defaults for missing
// fields, item validation, the item cap and the subtotal/total backfill.
// Applying it more than once yields the same record as applying it once.
func Normalize(e *Extraction, today time.Time) {
	e.StoreName = strings.TrimSpace(e.StoreName)
	if e.StoreName == "" {
		e.StoreName = UnknownStore
	}

	e.PaymentMethod = strings.TrimSpace(e.PaymentMethod)
	if e.PaymentMethod == "" {
		e.PaymentMethod = UnknownPaymentMethod
	}

	e.Date = strings.TrimSpace(e.Date)
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		e.Date = today.Format(DateLayout)
	}
	e.Time = strings.TrimSpace(e.Time)

	e.TotalAmount = nonNegative(e.TotalAmount)
	e.TaxAmount = nonNegative(e.TaxAmount)
	e.Subtotal = nonNegative(e.Subtotal)

	e.Items = normalizeItems(e.Items)

	// Totals are derived before the subtotal so a single pass is a fixed point.
	if !e.TotalAmount.IsPositive() && e.Subtotal.IsPositive() {
		e.TotalAmount = e.Subtotal.Add(e.TaxAmount)
	}
	if !e.TotalAmount.IsPositive() && len(e.Items) > 0 {
		e.TotalAmount = SumItems(e.Items).Add(e.TaxAmount)
	}
	if !e.Subtotal.IsPositive() && e.TotalAmount.IsPositive() {
		e.Subtotal = decimal.Max(decimal.Zero, e.TotalAmount.Sub(e.TaxAmount))
	}
}

// SumItems returns the sum of the line totals
func SumItems(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Total)
	}
	return sum
}

func normalizeItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, min(len(items), MaxItems))
	for _, item := range items {
		if len(out) == MaxItems {
			break
		}
		item.Name = truncateName(strings.TrimSpace(item.Name))
		if item.Name == "" || !item.Price.IsPositive() {
			continue
		}
		if !item.Quantity.IsPositive() {
			item.Quantity = decimal.NewFromInt(1)
		}
		if !item.Total.IsPositive() {
			item.Total = item.Price
		}
		out = append(out, item)
	}
	return out
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= MaxItemNameLength {
		return name
	}
	return strings.TrimSpace(string(runes[:MaxItemNameLength]))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
