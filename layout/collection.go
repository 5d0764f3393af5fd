// Package layout implements the role-aware layout engine: ordered collections of
// navigation and widget items, templates, and the import/export codec.
//
// Every function here is pure. Inputs are never modified; callers replace their
// current collection with the returned slice.
package layout

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
)

var (
	ErrDuplicateID  = errors.New("duplicate item id")
	ErrItemNotFound = errors.New("item not found")
	ErrInvalidMove  = errors.New("move index out of range")
)

// newID is swapped in tests.
var newID = uuid.NewString

// Source loads a stored layout for a user.
type Source interface {
	FetchLayout(ctx context.Context, userID string) ([]domain.Item, error)
}

// View is an item of the editable collection annotated for the caller.
type View struct {
	domain.Item
	Denied bool `json:"denied"`
}

// Load fetches the stored layout and merges it with defaults. Any failure,
// including an empty or malformed stored layout, yields the defaults; the
// failure is only logged.
func Load(ctx context.Context, src Source, userID string, defaults []domain.Item, logger *log.Logger) []domain.Item {
	items, _ := LoadSettled(ctx, src, userID, defaults, logger)
	return items
}

// LoadSettled is Load that also reports whether the result reflects what is
// stored. It is false only when the fetch itself failed, in which case the
// defaults stand in for a layout that may still exist.
func LoadSettled(ctx context.Context, src Source, userID string, defaults []domain.Item, logger *log.Logger) ([]domain.Item, bool) {
	entry := logger.WithField("user", userID)
	remote, err := src.FetchLayout(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNoConfig):
		entry.Debug("no stored layout, using defaults")
		return slices.Clone(defaults), true
	case err != nil:
		entry.WithError(err).Info("layout load failed, using defaults")
		return slices.Clone(defaults), false
	case len(remote) == 0:
		entry.Debug("stored layout is empty, using defaults")
		return slices.Clone(defaults), true
	}
	for _, it := range remote {
		if it.ID == "" {
			entry.Info("stored layout has items without id, using defaults")
			return slices.Clone(defaults), true
		}
	}
	return MergeWithDefaults(remote, defaults), true
}

// MergeWithDefaults keeps the stored items with their own fields and order,
// filling a missing labelKey from the default with the same id, and appends
// defaults the stored layout has never seen after the highest stored order.
func MergeWithDefaults(remote, defaults []domain.Item) []domain.Item {
	byID := make(map[string]domain.Item, len(defaults))
	for _, d := range defaults {
		if _, ok := byID[d.ID]; !ok {
			byID[d.ID] = d
		}
	}

	seen := make(map[string]struct{}, len(remote)+len(defaults))
	out := make([]domain.Item, 0, len(remote)+len(defaults))
	maxOrder := -1
	for _, it := range remote {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		if it.LabelKey == "" {
			if d, ok := byID[it.ID]; ok && d.LabelKey != "" {
				it.LabelKey = d.LabelKey
			} else {
				it.LabelKey = synthesizedLabelKey(it)
			}
		}
		maxOrder = max(maxOrder, it.Order)
		out = append(out, it)
	}
	sortByOrder(out)

	for _, d := range defaults {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		maxOrder++
		d.Order = maxOrder
		out = append(out, d)
	}

	if !isDense(out) {
		return Reindex(out)
	}
	return out
}

// ValidMove reports whether from and to address elements of an n-item collection.
func ValidMove(n, from, to int) bool {
	return from >= 0 && from < n && to >= 0 && to < n
}

// Reorder moves the element at from to position to and reindexes densely.
// Invalid indices leave the collection untouched.
func Reorder(items []domain.Item, from, to int) []domain.Item {
	if !ValidMove(len(items), from, to) {
		return items
	}
	moved := items[from]
	out := make([]domain.Item, 0, len(items))
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)
	out = slices.Insert(out, to, moved)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// ToggleVisibility flips the visible flag of the item with id. The input
// slice itself is returned when no item matches.
func ToggleVisibility(items []domain.Item, id string) []domain.Item {
	idx := indexOf(items, id)
	if idx < 0 {
		return items
	}
	out := slices.Clone(items)
	out[idx].Visible = !out[idx].Visible
	return out
}

// FilterForDisplay returns the visible items the principal may access, in
// render order.
func FilterForDisplay(items []domain.Item, p domain.Principal) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if it.Visible && p.CanAccess(it) {
			out = append(out, it)
		}
	}
	sortByOrder(out)
	return out
}

// Annotate returns the whole collection in render order, marking the items
// the principal cannot access.
func Annotate(items []domain.Item, p domain.Principal) []View {
	out := make([]View, len(items))
	for i, it := range items {
		out[i] = View{Item: it, Denied: !p.CanAccess(it)}
	}
	slices.SortStableFunc(out, func(a, b View) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

// Add appends a copy of it at the end of the collection. An empty id is
// replaced with a generated one.
func Add(items []domain.Item, it domain.Item) ([]domain.Item, error) {
	it = it.Clone()
	if it.ID == "" {
		it.ID = newID()
	}
	if indexOf(items, it.ID) >= 0 {
		return items, ErrDuplicateID
	}
	if it.LabelKey == "" {
		it.LabelKey = synthesizedLabelKey(it)
	}
	it.Order = len(items)
	out := make([]domain.Item, 0, len(items)+1)
	out = append(out, items...)
	return append(out, it), nil
}

// Update replaces the item with the same id, keeping its position.
func Update(items []domain.Item, it domain.Item) ([]domain.Item, error) {
	idx := indexOf(items, it.ID)
	if idx < 0 {
		return items, ErrItemNotFound
	}
	it = it.Clone()
	it.Order = items[idx].Order
	if it.LabelKey == "" {
		it.LabelKey = items[idx].LabelKey
	}
	out := slices.Clone(items)
	out[idx] = it
	return out, nil
}

// Remove deletes the item with id and closes the gap in the order sequence.
func Remove(items []domain.Item, id string) ([]domain.Item, error) {
	idx := indexOf(items, id)
	if idx < 0 {
		return items, ErrItemNotFound
	}
	out := make([]domain.Item, 0, len(items)-1)
	out = append(out, items[:idx]...)
	out = append(out, items[idx+1:]...)
	for i := range out {
		out[i].Order = i
	}
	return out, nil
}

// Reindex sorts by order, keeping ties in slice order, and assigns 0..n-1.
func Reindex(items []domain.Item) []domain.Item {
	out := slices.Clone(items)
	sortByOrder(out)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// Normalize drops repeated ids, keeping the first, and reindexes.
func Normalize(items []domain.Item) []domain.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return Reindex(out)
}

func indexOf(items []domain.Item, id string) int {
	return slices.IndexFunc(items, func(it domain.Item) bool { return it.ID == id })
}

func sortByOrder(items []domain.Item) {
	slices.SortStableFunc(items, func(a, b domain.Item) int { return cmp.Compare(a.Order, b.Order) })
}

func isDense(items []domain.Item) bool {
	for i, it := range items {
		if it.Order != i {
			return false
		}
	}
	return true
}

func synthesizedLabelKey(it domain.Item) string {
	if it.Key != "" {
		return "layout." + it.Key
	}
	return "layout." + it.ID
}
