// Package stash provides an embeddable in-memory key-value cache with
// optional time-to-live expiration, mirrored to an append-only on-disk log
// for crash recovery.
//
// A Cache holds one concurrent store per value kind (timestamps, integers,
// strings, UUIDs, encoded models, and owner-scoped payloads). Writes update
// memory synchronously and, depending on the per-call SavePolicy, mirror the
// write to the disk log either not at all, in a detached goroutine, or
// before returning. Reads never touch the disk.
//
// Example usage:
//
//	cache := stash.New(stash.WithLogger(logger))
//	if err := cache.Initialize("sessions"); err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	exp := time.Now().Add(time.Hour)
//	if err := cache.SetString("greeting", "hello", &exp, stash.SaveSync); err != nil {
//		log.Fatal(err)
//	}
//
//	if v, ok := cache.GetString("greeting"); ok {
//		fmt.Println(v)
//	}
//
// Initialize replays the namespace's log into memory before serving any
// request, so a process restart recovers every live (non-expired) entry that
// was written with SaveSync, and every SaveAsync write whose append had
// completed. A background maintenance loop alternately compacts the log and
// sweeps expired entries from memory on the configured flush interval.
package stash
