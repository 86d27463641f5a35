package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

// ErrNoRecognizer is returned for uploads when no image recognizer is configured
var ErrNoRecognizer = errors.New("no text recognizer configured")

// Extractor builds categorized records from receipt text
type Extractor interface {
	Process(ctx context.Context, lines []string) *extraction.Extraction
	ProcessText(ctx context.Context, text string) *extraction.Extraction
	ProcessFragments(ctx context.Context, fragments []scanning.Fragment) *extraction.Extraction
	Categories() []string
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db             DB
	recognizer     scanning.Recognizer
	extractor      Extractor
	storage        Storage
	idGenerator    IDGenerator
	timeSource     TimeSource
	maxUploadBytes int64
}

// NewService creates a new Service with UUID receipt IDs. recognizer may be
// nil, in which case only text extraction is available.
func NewService(db DB, recognizer scanning.Recognizer, extractor Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, recognizer, extractor, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer scanning.Recognizer, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:             db,
		recognizer:     recognizer,
		extractor:      extractor,
		storage:        storage,
		idGenerator:    idGen,
		timeSource:     timeSrc,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
}

// SetMaxUploadBytes changes the upload size limit
func (s *Service) SetMaxUploadBytes(n int64) {
	if n > 0 {
		s.maxUploadBytes = n
	}
}

// MaxUploadBytes returns the upload size limit
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// ProcessReceipt stores an uploaded receipt, reads its text, extracts and
// categorizes its contents, and saves the result
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	if s.recognizer == nil {
		return nil, ErrNoRecognizer
	}
	contentType, err := uploadContentType(filename, contentType)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, s.maxUploadBytes>>20)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	fragments, err := s.recognizer.RecognizeLines(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to recognize receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.deleteFile(savedName)
		return nil, fmt.Errorf("recognizing receipt: %w", err)
	}

	receipt := &Receipt{
		ID:               id,
		OriginalFilename: filename,
		Filename:         savedName,
		ContentType:      contentType,
		Extraction:       s.extractor.ProcessFragments(ctx, fragments),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.deleteFile(savedName)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt saved", "id", id, "status", receipt.Extraction.Status, "items", len(receipt.Extraction.Items))
	return receipt, nil
}

// ExtractText structures already-recognized receipt text without saving anything
func (s *Service) ExtractText(ctx context.Context, text string) *extraction.Extraction {
	return s.extractor.ProcessText(ctx, text)
}

// ExtractLines structures already-recognized receipt lines without saving anything
func (s *Service) ExtractLines(ctx context.Context, lines []string) *extraction.Extraction {
	return s.extractor.Process(ctx, lines)
}

// Categories returns the categories items can be assigned
func (s *Service) Categories() []string {
	return s.extractor.Categories()
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	s.deleteFile(receipt.Filename)

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the uploaded file for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// deleteFile removes a stored file, logging any failure
func (s *Service) deleteFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}
