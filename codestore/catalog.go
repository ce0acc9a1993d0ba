package codestore

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/playground/language"
)

// TemplateFunc produces the default source of a language.
type TemplateFunc func(language.Language) string

// Problem is the metadata the problem catalog supplies for a problem.
type Problem struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Difficulty  string `yaml:"difficulty" json:"difficulty,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	StarterCode string `yaml:"starter_code" json:"starter_code,omitempty"`
}

// Template returns the comment-only starting source for lang. Starter code
// stays in the catalog and is never mixed into the template.
func (p Problem) Template(lang language.Language) string {
	prefix := lang.CommentPrefix()
	firstLine, _, _ := strings.Cut(p.Description, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", prefix, p.Title)
	fmt.Fprintf(&b, "%s %s\n", prefix, firstLine)
	fmt.Fprintf(&b, "%s Write your %s solution below\n", prefix, lang.DisplayName())
	return b.String()
}

// Catalog indexes problems by identifier.
type Catalog struct {
	problems map[string]Problem
	order    []string
}

type catalogFile struct {
	Problems []Problem `yaml:"problems"`
}

// NewCatalog builds a catalog from problems. Later duplicates replace earlier
// entries.
func NewCatalog(problems ...Problem) *Catalog {
	c := &Catalog{problems: make(map[string]Problem, len(problems))}
	for _, p := range problems {
		if _, exists := c.problems[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.problems[p.ID] = p
	}
	return c
}

// LoadCatalog reads a YAML problem list. An empty path yields an empty
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i, p := range file.Problems {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
	}

	return NewCatalog(file.Problems...), nil
}

// Lookup returns the problem with the given identifier.
func (c *Catalog) Lookup(id string) (Problem, bool) {
	p, ok := c.problems[id]
	return p, ok
}

// ProblemOrStub returns the catalog entry, or a stub titled after the id for
// problems the catalog does not know.
func (c *Catalog) ProblemOrStub(id string) Problem {
	if p, ok := c.Lookup(id); ok {
		return p
	}
	return Problem{ID: id, Title: id}
}

// Problems returns the problems in catalog order.
func (c *Catalog) Problems() []Problem {
	out := make([]Problem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.problems[id])
	}
	return out
}
