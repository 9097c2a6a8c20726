package workflow

import (
	"errors"
	"fmt"
)

// Builder assembles a Definition. Structural problems are collected and
// reported together by Build.
type Builder struct {
	def         *Definition
	transitions []pendingEdge
	errs        []error
}

type pendingEdge struct {
	from string
	to   string
}

// StatusConfiguration configures the edges leaving one status
type StatusConfiguration struct {
	builder *Builder
	from    string
}

// NewBuilder starts a definition for the given workflow type
func NewBuilder(id int64, code string, scope Scope) *Builder {
	b := &Builder{
		def: &Definition{
			ID:     id,
			Code:   code,
			Scope:  scope,
			byID:   make(map[int64]Status),
			byCode: make(map[string]Status),
			next:   make(map[int64]int64),
		},
	}
	if code == "" {
		b.errs = append(b.errs, errors.New("workflow code is required"))
	}
	if !scope.IsValid() {
		b.errs = append(b.errs, fmt.Errorf("invalid scope %q", scope))
	}
	return b
}

// Named sets the display name
func (b *Builder) Named(name string) *Builder {
	b.def.Name = name
	return b
}

// Status appends a status; its position is its insertion order
func (b *Builder) Status(s Status) *Builder {
	if s.Code == "" {
		b.errs = append(b.errs, fmt.Errorf("status %d has no code", s.ID))
		return b
	}
	if _, dup := b.def.byID[s.ID]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate status id %d", s.ID))
		return b
	}
	if _, dup := b.def.byCode[s.Code]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate status code %s", s.Code))
		return b
	}

	s.Position = len(b.def.statuses)
	b.def.statuses = append(b.def.statuses, s)
	b.def.byID[s.ID] = s
	b.def.byCode[s.Code] = s
	return b
}

// Configure returns the configuration for edges leaving the status code
func (b *Builder) Configure(fromCode string) *StatusConfiguration {
	return &StatusConfiguration{builder: b, from: fromCode}
}

// Permit allows a transition to the target status
func (c *StatusConfiguration) Permit(toCode string) *StatusConfiguration {
	c.builder.transitions = append(c.builder.transitions, pendingEdge{from: c.from, to: toCode})
	return c
}

// Build validates the definition: exactly one initial status, every edge
// between known statuses, at most one edge per source, none leaving a terminal.
func (b *Builder) Build() (*Definition, error) {
	errs := append([]error(nil), b.errs...)
	d := b.def

	initials := 0
	for _, s := range d.statuses {
		if s.IsInitial {
			initials++
			d.initial = s
		}
	}
	if initials != 1 {
		errs = append(errs, fmt.Errorf("expected exactly one initial status, found %d", initials))
	}

	for _, e := range b.transitions {
		from, okFrom := d.byCode[e.from]
		to, okTo := d.byCode[e.to]
		switch {
		case !okFrom:
			errs = append(errs, fmt.Errorf("transition from unknown status %s", e.from))
		case !okTo:
			errs = append(errs, fmt.Errorf("transition to unknown status %s", e.to))
		case from.IsTerminal:
			errs = append(errs, fmt.Errorf("terminal status %s has an outgoing transition", from.Code))
		default:
			if existing, dup := d.next[from.ID]; dup {
				errs = append(errs, fmt.Errorf("status %s already transitions to %s", from.Code, d.byID[existing].Code))
				continue
			}
			d.next[from.ID] = to.ID
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidDefinition, d.Code, errors.Join(errs...))
	}
	return d, nil
}
