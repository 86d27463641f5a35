package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// multipart overhead allowed on top of the file size limit
const formOverheadBytes = 1 << 20

// extractionRequest is the JSON body accepted by the extraction endpoint
type extractionRequest struct {
	Text  string   `json:"text"`
	Lines []string `json:"lines"`
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedFile):
		return http.StatusBadRequest
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNoRecognizer):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the matching error response
func writeServiceError(w http.ResponseWriter, msg string, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	slog.Warn(msg, "error", err)
	writeError(w, err.Error(), code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, "Error listing receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	limit := s.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverheadBytes)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Sprintf("File is too large. Maximum size is %d MB.", limit>>20), http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("Error parsing multipart form", "error", err)
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	receipt, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, "Error processing receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleExtractText structures receipt text sent as a plain body or as JSON
// with either "text" or "lines"
func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.service.MaxUploadBytes()))
	if err != nil {
		writeError(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeJSON(w, http.StatusOK, s.service.ExtractText(r.Context(), string(body)))
		return
	}

	var req extractionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Lines != nil {
		writeJSON(w, http.StatusOK, s.service.ExtractLines(r.Context(), req.Lines))
		return
	}
	writeJSON(w, http.StatusOK, s.service.ExtractText(r.Context(), req.Text))
}

// handleGetReceipt returns a specific receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, "Error deleting receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile serves the original uploaded file
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting receipt file", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListCategories returns the categories items can be assigned
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Categories())
}

// handleExport returns every receipt as an Excel workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX()
	if err != nil {
		writeServiceError(w, "Error exporting receipts", err)
		return
	}

	filename := fmt.Sprintf("receipts-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Write(data)
}
