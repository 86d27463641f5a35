package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

// ErrNotFound is returned when a receipt does not exist
var ErrNotFound = errors.New("receipt not found")

// Receipt is an uploaded receipt file and the data extracted from it
type Receipt struct {
	ID               string                 `json:"id"`
	OriginalFilename string                 `json:"original_filename"`
	Filename         string                 `json:"filename"` // name in file storage
	ContentType      string                 `json:"content_type"`
	Extraction       *extraction.Extraction `json:"extraction"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}
