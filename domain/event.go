package domain

import "github.com/bytedance/sonic"

// LayoutSaved is published after a successful remote save.
const LayoutSaved = "layout-saved"

// LayoutEvent is the audit record published to the layout events queue.
type LayoutEvent struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	ItemCount int                    `json:"itemCount"`
	Data      sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}
