// Package catalog maps scientific names to external reference pages.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

//go:embed data/gci_pages.json
var embedded []byte

type Page struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	byName map[string]string
}

// New indexes pages by lower-cased name. The first entry wins on duplicates.
func New(pages []Page) *Catalog {
	c := &Catalog{byName: make(map[string]string, len(pages))}
	for _, p := range pages {
		key := strings.ToLower(p.Name)
		if _, dup := c.byName[key]; dup || p.URL == "" {
			continue
		}
		c.byName[key] = p.URL
	}
	return c
}

// Load reads the catalog from path, or the embedded copy when path is empty.
func Load(path string) (*Catalog, error) {
	raw := embedded
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = b
	}
	var pages []Page
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(pages), nil
}

// Lookup is a case-insensitive exact match.
func (c *Catalog) Lookup(scientificName string) (string, bool) {
	if c == nil || scientificName == "" {
		return "", false
	}
	u, ok := c.byName[strings.ToLower(scientificName)]
	return u, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byName)
}
