package stash

import "errors"

// ErrAppendFailed is returned when a disk append exhausted its retry budget.
// Surfaced to SaveSync callers; logged and dropped on the SaveAsync path.
var ErrAppendFailed = errors.New("disk log append failed")
