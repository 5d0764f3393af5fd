package domain

// PartialItem is a template entry; id and order are assigned on instantiation.
type PartialItem struct {
	Key      string   `json:"key"`
	LabelKey string   `json:"labelKey,omitempty"`
	Icon     Icon     `json:"icon,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	*Widget
}

// Template is a named preset of partial items.
type Template struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Items       []PartialItem `json:"items"`
}
