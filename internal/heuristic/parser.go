// Package heuristic structures receipt text with fixed, deterministic rules.
// It is the fallback when no generative model is configured or the model
// fails to produce a usable reply.
package heuristic

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

const (
	storeScanLines = 12
	// lines before the first priced line that may still hold items
	itemLookback = 5
	// item block start when nothing better is found
	defaultItemStart = 10
	// lines at the bottom assumed to be the footer when no totals line is found
	footerLines = 5
)

var (
	storeAddressKeywords = []string{"street", "avenue", "road", "drive", "blvd", "suite", "apt", "floor"}
	storeMetaKeywords    = []string{
		"total", "subtotal", "tax", "gst", "vat", "balance", "change", "tip",
		"host", "server", "tab", "amex", "visa", "mastercard", "discover", "diners",
		"payment", "card", "account", "receipt",
	}

	itemSkipKeywords     = []string{"total", "tax", "gst", "vat", "subtotal", "amt", "balance", "change", "payment", "card", "host", "tab", "date", "time", "desc", "receipt"}
	itemStreetKeywords   = []string{"street", "avenue", "road", "drive", "blvd", "suite"}
	itemHeaderKeywords   = []string{"item", "desc"}
	itemBlockEndKeywords = []string{"subtotal", "total", "tax", "balance"}
	footerTaxKeywords    = []string{"tax", "gst", "vat"}

	stateZipPattern   = regexp.MustCompile(`^[a-z]{2}\s+\d{5}`)
	storeTimePattern  = regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s*(a\.?m\.?|p\.?m\.?)`)
	storeDatePattern  = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
	zipPattern        = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	bareAmountPattern = regexp.MustCompile(`^\$\s*\d+\.\d{2}$`)
	quantityPattern   = regexp.MustCompile(`(?i)^\d+\s*x\s*\d+`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)

	dayFirstDatePattern  = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	yearFirstDatePattern = regexp.MustCompile(`\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`)

	pricedLinePattern  = regexp.MustCompile(`\$\s*\d+\.\d{2}`)
	inlinePricePattern = regexp.MustCompile(`\$\s*(\d+\.?\d*|\d*\.\d+)`)
	priceOnlyPattern   = regexp.MustCompile(`^\$?\s*(\d+\.?\d*|\d*\.\d+)$`)
	anyNumberPattern   = regexp.MustCompile(`\$?\s*(\d+\.?\d*|\d*\.\d+)`)
	addressCodePattern = regexp.MustCompile(`\d{5}(\s*[-,]|$)`)
	standaloneTimeLine = regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s*(am|pm)?$`)
	timeOfDayPattern   = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2})(?:\s*([ap])\.?m\.?)?`)
	paymentPattern     = regexp.MustCompile(`(?i)\b(visa|master\s?card|amex|american express|discover|debit|cash|apple pay|google pay)\b`)

	// day/month/year first, then year/month/day
	dateLayouts = []string{"2/1/2006", "2/1/06", "2006/1/2"}
)

var paymentLabels = map[string]string{
	"visa":             "Visa",
	"mastercard":       "Mastercard",
	"master card":      "Mastercard",
	"amex":             "Amex",
	"american express": "Amex",
	"discover":         "Discover",
	"debit":            "Debit",
	"cash":             "Cash",
	"apple pay":        "Apple Pay",
	"google pay":       "Google Pay",
}

// Parser extracts receipt fields from recognized text lines
type Parser struct{}

// NewParser creates a heuristic parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a normalized extraction from the given lines. Fields that
// cannot be found keep their defaults; it never fails.
func (p *Parser) Parse(lines []string, today time.Time) *extraction.Extraction {
	e := extraction.New(today)
	text := strings.Join(lines, "\n")

	if store, ok := findStoreName(lines); ok {
		e.StoreName = store
	}
	if date, ok := findDate(text); ok {
		e.Date = date
	}
	e.Time = findTime(text)
	if method, ok := findPaymentMethod(text); ok {
		e.PaymentMethod = method
	}

	start, end := itemBlock(lines)
	e.Items = findItems(lines, start, end)

	footer := scanFooter(lines, max(0, end-1))
	if footer.tax != nil {
		e.TaxAmount = *footer.tax
	}
	if footer.total != nil {
		e.TotalAmount = *footer.total
	}
	if footer.subtotal != nil {
		e.Subtotal = *footer.subtotal
	}

	extraction.Normalize(e, today)
	return e
}

func findStoreName(lines []string) (string, bool) {
	for _, line := range lines[:min(len(lines), storeScanLines)] {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case len(line) < 2:
		case containsAny(lower, storeAddressKeywords):
		case stateZipPattern.MatchString(lower):
		case storeTimePattern.MatchString(lower):
		case storeDatePattern.MatchString(line):
		case zipPattern.MatchString(line):
		case containsAny(lower, storeMetaKeywords):
		case bareAmountPattern.MatchString(line), quantityPattern.MatchString(line):
		case digitsPattern.MatchString(line):
		default:
			return line, true
		}
	}
	return "", false
}

// findDate looks for a day-first date, then a year-first one, anywhere in the text
func findDate(text string) (string, bool) {
	if match := dayFirstDatePattern.FindString(text); match != "" {
		if date, ok := parseDate(match); ok {
			return date, true
		}
	}
	if match := yearFirstDatePattern.FindString(text); match != "" {
		if date, ok := parseDate(match); ok {
			return date, true
		}
	}
	return "", false
}

func parseDate(s string) (string, bool) {
	s = strings.ReplaceAll(s, "-", "/")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(extraction.DateLayout), true
		}
	}
	return "", false
}

func findTime(text string) string {
	m := timeOfDayPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[2] == "" {
		return m[1]
	}
	return m[1] + " " + strings.ToUpper(m[2]) + "M"
}

func findPaymentMethod(text string) (string, bool) {
	m := paymentPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	key := strings.Join(strings.Fields(strings.ToLower(m[1])), " ")
	label, ok := paymentLabels[key]
	return label, ok
}

// itemBlock returns the half-open range of lines expected to hold line items
func itemBlock(lines []string) (int, int) {
	start, end := -1, len(lines)
	for i, line := range lines {
		lower := strings.ToLower(line)
		if containsAny(lower, itemHeaderKeywords) {
			start = i + 1
		}
		if containsAny(lower, itemBlockEndKeywords) {
			end = i
			break
		}
	}

	if start == -1 {
		for i, line := range lines {
			if pricedLinePattern.MatchString(line) {
				start = max(0, i-itemLookback)
				break
			}
		}
	}
	if start == -1 {
		start = defaultItemStart
	}

	if end == len(lines) {
		end = max(start, len(lines)-footerLines)
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}

func findItems(lines []string, start, end int) []extraction.LineItem {
	items := []extraction.LineItem{}
	for i := start; i < end && i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		lower := strings.ToLower(line)

		if line == "" ||
			containsAny(lower, itemSkipKeywords) ||
			addressCodePattern.MatchString(line) || containsAny(lower, itemStreetKeywords) ||
			standaloneTimeLine.MatchString(line) {
			continue
		}

		priceNext := i+1 < len(lines) && priceOnlyPattern.MatchString(strings.TrimSpace(lines[i+1]))
		loc := inlinePricePattern.FindStringSubmatchIndex(line)

		var name string
		var price decimal.Decimal
		switch {
		case loc != nil:
			name = strings.Join(strings.Fields(line[:loc[0]]+" "+line[loc[1]:]), " ")
			price = parsePrice(line[loc[2]:loc[3]])
		case priceNext:
			i++
			name = line
			m := priceOnlyPattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
			price = parsePrice(m[1])
		default:
			continue
		}

		if price.IsPositive() && len(name) > 1 && !containsAny(strings.ToLower(name), itemSkipKeywords) {
			items = append(items, extraction.NewItem(name, price))
		}
	}
	return items
}

type footerTotals struct {
	tax, total, subtotal *decimal.Decimal
}

// scanFooter reads tax, total and subtotal from the lines at and after from.
// The first value found for each field is kept.
func scanFooter(lines []string, from int) footerTotals {
	var f footerTotals
	for i := from; i < len(lines); i++ {
		lower := strings.ToLower(lines[i])

		if f.tax == nil && containsAny(lower, footerTaxKeywords) {
			f.tax = footerAmount(lines, i)
		}
		if f.total == nil && strings.Contains(lower, "total") && !strings.Contains(lower, "subtotal") {
			f.total = footerAmount(lines, i)
		}
		if f.subtotal == nil && strings.Contains(lower, "subtotal") {
			f.subtotal = footerAmount(lines, i)
		}
	}
	return f
}

// footerAmount takes the trailing currency amount on line i, or failing
// that the first number on the following line
func footerAmount(lines []string, i int) *decimal.Decimal {
	if matches := inlinePricePattern.FindAllStringSubmatch(lines[i], -1); len(matches) > 0 {
		d := parsePrice(matches[len(matches)-1][1])
		return &d
	}
	if i+1 < len(lines) {
		if m := anyNumberPattern.FindStringSubmatch(lines[i+1]); m != nil {
			d := parsePrice(m[1])
			return &d
		}
	}
	return nil
}

func parsePrice(s string) decimal.Decimal {
	s = strings.TrimSuffix(s, ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
