package domain

import "errors"

// ErrNoConfig is returned by layout stores when a user has never saved a layout.
// It is distinct from transport failures, although callers treat both the same.
var ErrNoConfig = errors.New("no stored layout")
