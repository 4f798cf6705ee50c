package stash

// SavePolicy is the per-call choice of whether and how synchronously a memory
// mutation is mirrored to the disk log.
type SavePolicy string

const (
	// SaveNone keeps the mutation in memory only.
	SaveNone SavePolicy = "none"
	// SaveAsync mirrors the mutation from a detached goroutine. Errors are
	// logged, never surfaced; a crash before the append completes loses the
	// disk-side write.
	SaveAsync SavePolicy = "async"
	// SaveSync blocks the caller until the disk side-effect completes, or
	// fails the call.
	SaveSync SavePolicy = "sync"
)
