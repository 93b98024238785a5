// Package catalog holds the chart of accounts used to resolve category names
// into stable identifiers.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

//go:embed taxonomy.yaml
var embeddedTaxonomy []byte

// Source supplies a persisted copy of the taxonomy.
type Source interface {
	ListCategories(ctx context.Context) ([]model.CategoryDefinition, error)
}

// Filter narrows List results. Nil fields match everything.
type Filter struct {
	Type       *model.CategoryType
	IsBusiness *bool
}

// Catalog is an immutable, name- and id-indexed taxonomy. It is safe for
// concurrent use.
type Catalog struct {
	byName  map[string]int
	byID    map[string]int
	entries []model.CategoryDefinition
	version int
}

type taxonomyFile struct {
	Categories []model.CategoryDefinition `yaml:"categories"`
	Version    int                        `yaml:"version"`
}

// New builds a catalog from entries. Ids and normalized names must be unique.
func New(entries []model.CategoryDefinition) (*Catalog, error) {
	c := &Catalog{
		entries: make([]model.CategoryDefinition, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		if e.ID == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("category %q: id and name are required", e.Name)
		}
		if !e.Type.Valid() {
			return nil, fmt.Errorf("category %s: invalid type %q", e.ID, e.Type)
		}
		key := Normalize(e.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("category %s: duplicate name %q", e.ID, e.Name)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %q", e.ID)
		}
		c.byName[key] = len(c.entries)
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	return c, nil
}

// Parse decodes a YAML taxonomy document.
func Parse(data []byte) (*Catalog, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy contains no categories")
	}
	c, err := New(f.Categories)
	if err != nil {
		return nil, err
	}
	c.version = f.Version
	return c, nil
}

// Default returns the embedded taxonomy.
func Default() *Catalog {
	c, err := Parse(embeddedTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("embedded taxonomy is invalid: %v", err))
	}
	return c
}

// LoadFile reads a taxonomy from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", path, err)
	}
	return Parse(data)
}

// Load prefers the source's persisted taxonomy and falls back to the embedded
// one when the source is nil, unavailable or empty.
func Load(ctx context.Context, source Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		return Default()
	}

	entries, err := source.ListCategories(ctx)
	if err != nil {
		logger.Warn("category store unavailable, using embedded taxonomy", "error", err)
		return Default()
	}
	if len(entries) == 0 {
		logger.Debug("category store empty, using embedded taxonomy")
		return Default()
	}

	c, err := New(entries)
	if err != nil {
		logger.Warn("stored taxonomy is invalid, using embedded taxonomy", "error", err)
		return Default()
	}
	return c
}

// Normalize canonicalizes a category name for lookup.
func Normalize(name string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(name)))
}

// Version returns the taxonomy document version, or 0 when built from entries.
func (c *Catalog) Version() int {
	return c.version
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// ByName looks up a category by its display name.
func (c *Catalog) ByName(name string) (model.CategoryDefinition, bool) {
	i, ok := c.byName[Normalize(name)]
	if !ok {
		return model.CategoryDefinition{}, false
	}
	return c.entries[i], true
}

// ByID looks up a category by its stable identifier.
func (c *Catalog) ByID(id string) (model.CategoryDefinition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.CategoryDefinition{}, false
	}
	return c.entries[i], true
}

// Resolve returns the id for name, or nil when the name is not in the catalog.
func (c *Catalog) Resolve(name string) *string {
	def, ok := c.ByName(name)
	if !ok {
		return nil
	}
	id := def.ID
	return &id
}

// List returns the categories matching f in taxonomy order.
func (c *Catalog) List(f Filter) []model.CategoryDefinition {
	out := make([]model.CategoryDefinition, 0, len(c.entries))
	for _, e := range c.entries {
		if f.Type != nil && e.Type != *f.Type {
			continue
		}
		if f.IsBusiness != nil && e.IsBusiness != *f.IsBusiness {
			continue
		}
		out = append(out, e)
	}
	return out
}

// All returns every category in taxonomy order.
func (c *Catalog) All() []model.CategoryDefinition {
	return c.List(Filter{})
}

// Partition splits expense categories into business and personal lists.
func (c *Catalog) Partition() (business, personal []model.CategoryDefinition) {
	for _, e := range c.entries {
		if e.Type != model.CategoryTypeExpense {
			continue
		}
		if e.IsBusiness {
			business = append(business, e)
		} else {
			personal = append(personal, e)
		}
	}
	return business, personal
}
