// Package taxonomy holds the expense categories and the keywords used to
// recognize them in receipt item names.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultData []byte

// Category is one expense category and its keywords, in match order
type Category struct {
	Name     string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy is an ordered, read-only list of categories
type Taxonomy struct {
	categories []Category
	byKeyword  map[string]string
}

var loadDefault = sync.OnceValues(func() (*Taxonomy, error) {
	return Parse(defaultData)
})

// Default returns the built-in taxonomy
func Default() *Taxonomy {
	t, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("built-in taxonomy is invalid: %v", err))
	}
	return t
}

// Load reads a taxonomy from a YAML file with the same shape as the built-in one
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing taxonomy %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML taxonomy document
func Parse(data []byte) (*Taxonomy, error) {
	var raw []Category
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling yaml: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}

	t := &Taxonomy{
		categories: make([]Category, 0, len(raw)),
		byKeyword:  make(map[string]string),
	}
	names := make(map[string]bool, len(raw))
	for _, c := range raw {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("category with empty name")
		}
		if names[name] {
			return nil, fmt.Errorf("category %q listed twice", name)
		}
		names[name] = true

		keywords := make([]string, 0, len(c.Keywords))
		for _, k := range c.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				return nil, fmt.Errorf("category %q has an empty keyword", name)
			}
			if owner, ok := t.byKeyword[k]; ok {
				return nil, fmt.Errorf("keyword %q listed under both %q and %q", k, owner, name)
			}
			t.byKeyword[k] = name
			keywords = append(keywords, k)
		}
		t.categories = append(t.categories, Category{Name: name, Keywords: keywords})
	}
	return t, nil
}

// Categories returns the categories in declaration order
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = Category{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	return out
}

// Names returns the category names in declaration order
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.categories))
	for i, c := range t.categories {
		names[i] = c.Name
	}
	return names
}

// CategoryOf returns the category a keyword is listed under
func (t *Taxonomy) CategoryOf(keyword string) (string, bool) {
	name, ok := t.byKeyword[strings.ToLower(strings.TrimSpace(keyword))]
	return name, ok
}
