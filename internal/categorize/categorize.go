// Package categorize assigns expense categories to receipt line items by
// matching item names against the keyword taxonomy.
package categorize

import (
	"log/slog"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/taxonomy"
)

const (
	// Threshold is the minimum score a match needs to be accepted
	Threshold = 0.65

	containedScore = 0.95
	exactScore     = 1.0
	// scores above this cannot be beaten by any later keyword
	stopScore = 0.95
)

// Categorizer matches item names against a taxonomy. It holds no mutable
// state and is safe for concurrent use.
type Categorizer struct {
	categories []taxonomy.Category
	tax        *taxonomy.Taxonomy
}

// New creates a Categorizer for the given taxonomy
func New(tax *taxonomy.Taxonomy) *Categorizer {
	return &Categorizer{
		categories: tax.Categories(),
		tax:        tax,
	}
}

// Categorize returns the best category for an item name and its score.
// Names with no match above Threshold are placed in extraction.OtherCategory.
func (c *Categorizer) Categorize(name string) (string, float64) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return extraction.OtherCategory, 0
	}

	if category, ok := c.tax.CategoryOf(name); ok {
		return category, exactScore
	}

	bestCategory := extraction.OtherCategory
	bestScore := 0.0
	for _, category := range c.categories {
		for _, keyword := range category.Keywords {
			score := similarity(name, keyword)
			if score > Threshold && score > bestScore {
				bestScore = score
				bestCategory = category.Name
				if score > stopScore {
					break
				}
			}
		}
		if bestScore > stopScore {
			break
		}
	}
	return bestCategory, bestScore
}

// Categories returns every category an item can be assigned, ending with
// extraction.OtherCategory
func (c *Categorizer) Categories() []string {
	return append(c.tax.Names(), extraction.OtherCategory)
}

// Apply categorizes every item in place
func (c *Categorizer) Apply(items []extraction.LineItem) {
	for i := range items {
		category, score := c.Categorize(items[i].Name)
		items[i].Category = category
		items[i].Confidence = score
		slog.Debug("Categorized item", "name", items[i].Name, "category", category, "confidence", score)
	}
}

// similarity scores a normalized item name against a keyword. Substring
// matches outrank fuzzy ones so short keywords cannot win on edit distance.
func similarity(name, keyword string) float64 {
	switch {
	case strings.Contains(name, keyword):
		return exactScore
	case strings.Contains(keyword, name):
		return containedScore
	default:
		return levenshtein.Similarity(name, keyword, nil)
	}
}
