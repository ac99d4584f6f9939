package model

import "errors"

// ErrStaleOrMissingProgress marks a durable record that is absent or cannot be decoded.
var ErrStaleOrMissingProgress = errors.New("stale or missing progress")
