// Package catalog loads and indexes the control catalog that a marking
// session runs against. The catalog is read once per session and treated as
// immutable afterwards.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"checkline/internal/config"
	"checkline/internal/domain"
	checklinesdk "checkline/sdk/go"
)

// ErrUnavailable wraps any failure to fetch the catalog from its source.
var ErrUnavailable = errors.New("catalog unavailable")

// Source provides the ordered control list.
type Source interface {
	Load(ctx context.Context) ([]domain.Control, error)
}

// Catalog is an immutable, ordered control list with id lookup.
type Catalog struct {
	controls []domain.Control
	byID     map[string]int
}

// New builds a catalog from an ordered control list. Duplicate ids keep the
// first occurrence's position.
func New(controls []domain.Control) *Catalog {
	c := &Catalog{
		controls: controls,
		byID:     make(map[string]int, len(controls)),
	}
	for i, ctrl := range controls {
		if _, ok := c.byID[ctrl.ID]; !ok {
			c.byID[ctrl.ID] = i
		}
	}
	return c
}

// Load fetches the catalog from src.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	controls, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("%w: source returned no controls", ErrUnavailable)
	}
	return New(controls), nil
}

// Len returns the number of controls.
func (c *Catalog) Len() int { return len(c.controls) }

// Controls returns the controls in catalog order. Callers must not mutate
// the returned slice.
func (c *Catalog) Controls() []domain.Control { return c.controls }

// Get returns the control with the given id.
func (c *Catalog) Get(id string) (domain.Control, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Control{}, false
	}
	return c.controls[i], true
}

// Has reports whether id exists in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// SectionGroup is one section with its controls in catalog order.
type SectionGroup struct {
	Name     string
	Controls []domain.Control
}

// GroupBySection groups controls by section, sections ordered by first
// appearance in the catalog.
func (c *Catalog) GroupBySection() []SectionGroup {
	var groups []SectionGroup
	index := map[string]int{}
	for _, ctrl := range c.controls {
		i, ok := index[ctrl.Section]
		if !ok {
			i = len(groups)
			index[ctrl.Section] = i
			groups = append(groups, SectionGroup{Name: ctrl.Section})
		}
		groups[i].Controls = append(groups[i].Controls, ctrl)
	}
	return groups
}

// ConfigSource serves the catalog embedded in checkline.yml.
type ConfigSource struct {
	Config *config.Config
}

func (s ConfigSource) Load(ctx context.Context) ([]domain.Control, error) {
	if s.Config == nil {
		return nil, fmt.Errorf("%w: no config", ErrUnavailable)
	}
	return s.Config.Controls(), nil
}

// HTTPSource fetches the catalog from a checkline server.
type HTTPSource struct {
	Client *checklinesdk.Client
}

func (s HTTPSource) Load(ctx context.Context) ([]domain.Control, error) {
	wire, err := s.Client.ListControls(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	controls := make([]domain.Control, 0, len(wire))
	for _, w := range wire {
		controls = append(controls, domain.Control{
			ID:             w.ID,
			Section:        w.Section,
			Title:          w.Title,
			Description:    w.Description,
			Implementation: w.Implementation,
			RiskLevel:      domain.RiskLevel(w.RiskLevel),
			References:     w.References,
		})
	}
	return controls, nil
}
