package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"ops-console/domain"
)

// ValidationError reports a structurally invalid import document. No part of
// such a document is applied.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid layout bundle: %s: %v", e.Reason, e.Err)
	}
	return "invalid layout bundle: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ImportResult is the outcome of parsing a bundle for a principal. Total
// counts the items in the document, Accepted the ones left after filtering.
type ImportResult struct {
	Version  string
	Owner    string
	Items    []domain.Item
	Total    int
	Accepted int
}

// Export snapshots items into a bundle.
func Export(items []domain.Item, owner string, at time.Time) domain.Bundle {
	out := make([]domain.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return domain.Bundle{
		Version:    domain.BundleVersion,
		Owner:      owner,
		ExportedAt: at.UTC().Truncate(time.Second),
		Items:      out,
	}
}

func EncodeBundle(b domain.Bundle) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(b, "", "  ")
}

// Import parses a bundle and keeps the items p may access, densely
// reindexed. Items without an id get a fresh one; repeated ids keep the
// first occurrence.
func Import(data []byte, p domain.Principal) (ImportResult, error) {
	var doc map[string]json.RawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil || doc == nil {
		return ImportResult{}, &ValidationError{Reason: "document is not a JSON object", Err: err}
	}
	rawItems, ok := doc["items"]
	if !ok {
		return ImportResult{}, &ValidationError{Reason: "items is missing"}
	}
	if trimmed := bytes.TrimSpace(rawItems); len(trimmed) == 0 || trimmed[0] != '[' {
		return ImportResult{}, &ValidationError{Reason: "items is not an array"}
	}

	res := ImportResult{}
	if err := decodeString(doc, "version", &res.Version); err != nil {
		return ImportResult{}, err
	}
	if err := decodeString(doc, "owner", &res.Owner); err != nil {
		return ImportResult{}, err
	}

	var items []domain.Item
	if err := sonic.ConfigStd.Unmarshal(rawItems, &items); err != nil {
		return ImportResult{}, &ValidationError{Reason: "item cannot be decoded", Err: err}
	}
	for i := range items {
		if items[i].Widget != nil && !items[i].Type.Valid() {
			return ImportResult{}, &ValidationError{Reason: fmt.Sprintf("item %d has no widget type", i)}
		}
		if items[i].ID == "" {
			items[i].ID = newID()
		}
		if items[i].LabelKey == "" {
			items[i].LabelKey = synthesizedLabelKey(items[i])
		}
	}

	res.Total = len(items)
	kept := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if p.CanAccess(it) {
			kept = append(kept, it)
		}
	}
	res.Items = Normalize(kept)
	res.Accepted = len(res.Items)
	return res, nil
}

func decodeString(doc map[string]json.RawMessage, field string, dst *string) error {
	raw, ok := doc[field]
	if !ok {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Reason: field + " is not a string", Err: err}
	}
	return nil
}
