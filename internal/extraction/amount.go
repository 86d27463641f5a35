package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var amountCleaner = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

// ParseAmount parses a monetary amount such as "12.50", "$12.50" or "1,299.00"
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := amountCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}
