package extraction

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// UnknownStore is used when no merchant name could be determined
	UnknownStore = "Unknown Store"
	// UnknownPaymentMethod is used when no payment method could be determined
	UnknownPaymentMethod = "Unknown"
	// OtherCategory is assigned to items that match no taxonomy category
	OtherCategory = "Other"

	// MaxItems caps the number of line items kept per receipt
	MaxItems = 50
	// MaxItemNameLength caps the length of an item name, in characters
	MaxItemNameLength = 100

	// DateLayout is the ISO calendar date format used for Extraction.Date
	DateLayout = "2006-01-02"
)

// Status reports the outcome of an extraction
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// LineItem is one purchased product or service on a receipt
type LineItem struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // unit price
	Total    decimal.Decimal `json:"total"` // line total
	Category string          `json:"category,omitempty"`
	// Confidence is the categorization score in [0, 1]
	Confidence float64 `json:"confidence"`
}

// Extraction is the structured record produced from raw receipt text
type Extraction struct {
	StoreName     string          `json:"storeName"`
	Date          string          `json:"date"` // YYYY-MM-DD
	Time          string          `json:"time,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	PaymentMethod string          `json:"paymentMethod"`
	Items         []LineItem      `json:"items"`
	Status        Status          `json:"status,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// New returns an extraction holding every documented default
func New(today time.Time) *Extraction {
	return &Extraction{
		StoreName:     UnknownStore,
		Date:          today.Format(DateLayout),
		TotalAmount:   decimal.Zero,
		TaxAmount:     decimal.Zero,
		Subtotal:      decimal.Zero,
		PaymentMethod: UnknownPaymentMethod,
		Items:         []LineItem{},
	}
}

// Failed returns the all-defaults record with an error status
func Failed(today time.Time, message string) *Extraction {
	e := New(today)
	e.Status = StatusError
	e.Message = message
	return e
}

// NewItem returns a line item with quantity 1 and total equal to price
func NewItem(name string, price decimal.Decimal) LineItem {
	return LineItem{
		Name:     name,
		Quantity: decimal.NewFromInt(1),
		Price:    price,
		Total:    price,
	}
}
