package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the immutable set of workflow definitions known to the system
type Catalog struct {
	byID   map[int64]*Definition
	byCode map[string]*Definition
	owner  map[int64]int64 // status id -> workflow type id
}

// NewCatalog indexes definitions. Type ids, type codes and status ids must be unique.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[int64]*Definition, len(defs)),
		byCode: make(map[string]*Definition, len(defs)),
		owner:  make(map[int64]int64),
	}
	for _, d := range defs {
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow type id %d", ErrInvalidDefinition, d.ID)
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow type code %s", ErrInvalidDefinition, d.Code)
		}
		for _, s := range d.statuses {
			if other, dup := c.owner[s.ID]; dup {
				return nil, fmt.Errorf("%w: status id %d used by workflow types %d and %d", ErrInvalidDefinition, s.ID, other, d.ID)
			}
			c.owner[s.ID] = d.ID
		}
		c.byID[d.ID] = d
		c.byCode[d.Code] = d
	}
	return c, nil
}

// Get returns the definition for a workflow type id
func (c *Catalog) Get(id int64) (*Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownWorkflowType, id)
	}
	return d, nil
}

// ByCode returns the definition for a workflow type code
func (c *Catalog) ByCode(code string) (*Definition, error) {
	d, ok := c.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, code)
	}
	return d, nil
}

// Definitions returns all definitions ordered by id
func (c *Catalog) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(c.byID))
	for _, d := range c.byID {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

type catalogFile struct {
	Workflows []workflowSpec `yaml:"workflows"`
}

type workflowSpec struct {
	ID          int64        `yaml:"id"`
	Code        string       `yaml:"code"`
	Name        string       `yaml:"name"`
	Scope       Scope        `yaml:"scope"`
	Statuses    []statusSpec `yaml:"statuses"`
	Transitions []edgeSpec   `yaml:"transitions"`
}

type statusSpec struct {
	ID       int64  `yaml:"id"`
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Initial  bool   `yaml:"initial"`
	Terminal bool   `yaml:"terminal"`
}

type edgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LoadCatalog parses a YAML catalog
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode workflow catalog: %w", err)
	}

	defs := make([]*Definition, 0, len(file.Workflows))
	for _, w := range file.Workflows {
		b := NewBuilder(w.ID, w.Code, w.Scope).Named(w.Name)
		for _, s := range w.Statuses {
			b.Status(Status{ID: s.ID, Code: s.Code, Name: s.Name, IsInitial: s.Initial, IsTerminal: s.Terminal})
		}
		for _, e := range w.Transitions {
			b.Configure(e.From).Permit(e.To)
		}
		d, err := b.Build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return NewCatalog(defs...)
}

// LoadCatalogFile reads a catalog from disk
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog returns the catalog shipped with the binary
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalogYAML))
}
