package domain

import "time"

// BundleVersion is written into every exported bundle.
const BundleVersion = "1.0"

// Bundle is the import/export document for a layout.
type Bundle struct {
	Version    string    `json:"version"`
	Owner      string    `json:"owner"`
	ExportedAt time.Time `json:"exportedAt"`
	Items      []Item    `json:"items"`
}
