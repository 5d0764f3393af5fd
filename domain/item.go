package domain

import (
	"maps"
	"slices"
)

// Item is a single navigation entry or, when Widget is set, an embedded panel.
// Collections treat items as values: operations return new slices and never
// write through a shared Widget pointer.
type Item struct {
	ID       string   `json:"id"`
	Key      string   `json:"key"`
	LabelKey string   `json:"labelKey,omitempty"`
	Icon     Icon     `json:"icon,omitempty"`
	Visible  bool     `json:"visible"`
	Order    int      `json:"order"`
	Roles    []string `json:"roles,omitempty"`
	*Widget
}

// Widget holds the fields specific to embedded panels.
type Widget struct {
	Type     WidgetType     `json:"type"`
	Title    string         `json:"title"`
	Source   string         `json:"source"`
	Size     Size           `json:"size"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Size is a widget's grid footprint.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsWidget reports whether the item embeds external content.
func (it Item) IsWidget() bool {
	return it.Widget != nil
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Roles = slices.Clone(it.Roles)
	if it.Widget != nil {
		w := *it.Widget
		w.Settings = maps.Clone(it.Widget.Settings)
		out.Widget = &w
	}
	return out
}

// UserConfig is the persisted shape of a user's layout.
type UserConfig struct {
	Items []Item `json:"items"`
}
