package layout

import (
	"slices"

	"ops-console/domain"
)

// Catalog is a read-only set of named templates.
type Catalog struct {
	byName map[string]domain.Template
	names  []string
}

// NewCatalog indexes templates by name. A later template replaces an earlier
// one with the same name but keeps its position.
func NewCatalog(templates ...domain.Template) *Catalog {
	c := &Catalog{byName: make(map[string]domain.Template, len(templates))}
	for _, t := range templates {
		if _, ok := c.byName[t.Name]; !ok {
			c.names = append(c.names, t.Name)
		}
		c.byName[t.Name] = t
	}
	return c
}

func (c *Catalog) Get(name string) (domain.Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

func (c *Catalog) List() []domain.Template {
	out := make([]domain.Template, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}

// Instantiate builds a fresh collection from t. Items the principal cannot
// access are dropped without notice; the caller sees only the resulting count.
func Instantiate(t domain.Template, p domain.Principal) []domain.Item {
	out := make([]domain.Item, 0, len(t.Items))
	for i, pi := range t.Items {
		it := domain.Item{
			ID:       newID(),
			Key:      pi.Key,
			LabelKey: pi.LabelKey,
			Icon:     pi.Icon,
			Visible:  true,
			Order:    i,
			Roles:    slices.Clone(pi.Roles),
		}
		if pi.Widget != nil {
			w := *pi.Widget
			if spec, ok := w.Type.Spec(); ok {
				if w.Size == (domain.Size{}) {
					w.Size = spec.DefaultSize
				}
				if it.Icon == domain.IconNone {
					it.Icon = spec.Icon
				}
			}
			it.Widget = &w
			it = it.Clone()
		}
		if it.LabelKey == "" {
			it.LabelKey = synthesizedLabelKey(it)
		}
		if !p.CanAccess(it) {
			continue
		}
		out = append(out, it)
	}
	return Reindex(out)
}
