package receipt

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	receiptsSheet = "Receipts"
	itemsSheet    = "Items"
)

var (
	receiptHeaders = []string{"Receipt ID", "Date", "Time", "Store", "Payment Method", "Subtotal", "Tax", "Total", "Items", "Status", "File"}
	itemHeaders    = []string{"Receipt ID", "Date", "Store", "Item", "Category", "Confidence", "Quantity", "Unit Price", "Line Total"}
)

// ExportXLSX returns a workbook with one sheet of receipts and one sheet of
// their line items, newest receipt first
func (s *Service) ExportXLSX() ([]byte, error) {
	receipts, err := s.ListReceipts()
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"
	if err := f.SetSheetName("Sheet1", receiptsSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}

	if err := writeRow(f, receiptsSheet, 1, toAny(receiptHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, itemsSheet, 1, toAny(itemHeaders)); err != nil {
		return nil, err
	}

	receiptRow, itemRow := 2, 2
	for _, r := range receipts {
		e := r.Extraction
		if e == nil {
			continue
		}

		err := writeRow(f, receiptsSheet, receiptRow, []any{
			r.ID, e.Date, e.Time, e.StoreName, e.PaymentMethod,
			e.Subtotal.InexactFloat64(), e.TaxAmount.InexactFloat64(), e.TotalAmount.InexactFloat64(),
			len(e.Items), string(e.Status), r.OriginalFilename,
		})
		if err != nil {
			return nil, err
		}
		receiptRow++

		for _, item := range e.Items {
			err := writeRow(f, itemsSheet, itemRow, []any{
				r.ID, e.Date, e.StoreName, item.Name, item.Category, item.Confidence,
				item.Quantity.InexactFloat64(), item.Price.InexactFloat64(), item.Total.InexactFloat64(),
			})
			if err != nil {
				return nil, err
			}
			itemRow++
		}
	}

	_ = f.SetColWidth(receiptsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(receiptsSheet, "D", "D", 28) // store
	_ = f.SetColWidth(itemsSheet, "A", "A", 38)
	_ = f.SetColWidth(itemsSheet, "C", "E", 28) // store, item, category

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("setting %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
