// Package catalog suggests a category and icon for an item name from a
// data-driven keyword table.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTable []byte

// Category is one entry of the table.
type Category struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Icon     string   `yaml:"icon" json:"icon"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

type table struct {
	Categories []Category `yaml:"categories"`
}

// Match is the result of a lookup.
type Match struct {
	Category Category `json:"category"`
	Keyword  string   `json:"keyword"`
	Fuzzy    bool     `json:"fuzzy"`
}

// Catalog holds the parsed table.
type Catalog struct {
	categories []Category
	maxDist    int
}

// Default returns the catalog built from the embedded table
func Default() *Catalog {
	c, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded category table is invalid: %v", err))
	}
	return c
}

// Load reads a table from path, falling back to the embedded one when path
// is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category table: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse category table: %w", err)
	}
	if len(t.Categories) == 0 {
		return nil, fmt.Errorf("category table has no categories")
	}

	seen := make(map[string]bool)
	for i, cat := range t.Categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("category %d has no id", i)
		}
		if seen[cat.ID] {
			return nil, fmt.Errorf("duplicate category id %q", cat.ID)
		}
		seen[cat.ID] = true
		for j, kw := range cat.Keywords {
			t.Categories[i].Keywords[j] = normalize(kw)
		}
	}

	return &Catalog{categories: t.Categories, maxDist: 1}, nil
}

// Categories returns the categories in table order
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Get returns the category with the given id
func (c *Catalog) Get(id string) (Category, bool) {
	for _, cat := range c.categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

// Lookup finds the category for name. Whole-word keyword hits win; after
// that each word of name is compared to single-word keywords by edit
// distance so that small typos ("netflx") still match.
func (c *Catalog) Lookup(name string) (Match, bool) {
	normalized := normalize(name)
	if normalized == "" {
		return Match{}, false
	}
	padded := " " + normalized + " "

	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return Match{Category: cat, Keyword: kw}, true
			}
		}
	}

	best, bestDist := Match{}, c.maxDist+1
	for _, word := range strings.Fields(normalized) {
		if len([]rune(word)) < 4 {
			continue
		}
		for _, cat := range c.categories {
			for _, kw := range cat.Keywords {
				if strings.Contains(kw, " ") || len([]rune(kw)) < 4 {
					continue
				}
				if d := levenshtein.ComputeDistance(word, kw); d < bestDist {
					best, bestDist = Match{Category: cat, Keyword: kw, Fuzzy: true}, d
				}
			}
		}
	}
	if bestDist <= c.maxDist {
		return best, true
	}
	return Match{}, false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
