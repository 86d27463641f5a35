package scanning

import (
	"fmt"
	"strings"
)

const structurePromptTemplate = `You are a receipt data extraction expert. Analyze the following recognized text from a receipt and extract structured data.

Receipt text:
%s

Return ONLY a JSON object with exactly this structure:
{
  "storeName": "Store name from the receipt",
  "date": "Date in YYYY-MM-DD format, or null if not found",
  "time": "Time if found, empty string if not",
  "totalAmount": 0.00,
  "taxAmount": 0.00,
  "subtotal": 0.00,
  "paymentMethod": "Payment method if found",
  "items": [
    {
      "name": "Item name",
      "quantity": 1,
      "price": 0.00,
      "total": 0.00
    }
  ]
}

Rules:
1. Extract ONLY purchased items, NOT addresses, headers, or metadata
2. Amounts are numbers, not strings; price is the unit price and total is the line total
3. If a tax line exists (TAX, GST, VAT), extract that value, otherwise use 0
4. Every item must have both a name and a price
5. If a field cannot be found, use null
6. Do not include any text before or after the JSON and do not use markdown code blocks`

const recognizePromptTemplate = `Read every line of text printed on this receipt, from top to bottom, exactly as printed. The receipt is written in: %s.

Return ONLY a JSON object in this exact format:
{
  "lines": [
    {"text": "line as printed", "confidence": 0.95}
  ]
}

Rules:
- One entry per printed line, in reading order
- Keep prices, quantities and symbols exactly as printed on the same line as the item
- confidence is how sure you are of the line, between 0 and 1
- Do not include any text before or after the JSON and do not use markdown code blocks`

const recognizeSystemPrompt = "You are an expert at reading receipts and invoices. You transcribe all printed text accurately and never invent text that is not in the image."

// structurePrompt builds the instruction asking a model to structure receipt text
func structurePrompt(text string) string {
	return fmt.Sprintf(structurePromptTemplate, text)
}

// recognizePrompt builds the instruction asking a vision model to transcribe a receipt
func recognizePrompt(languages []string) string {
	hint := strings.Join(languages, ", ")
	if hint == "" {
		hint = "en"
	}
	return fmt.Sprintf(recognizePromptTemplate, hint)
}
