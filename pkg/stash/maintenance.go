package stash

import (
	"context"
	"time"
)

// maintenanceLoop alternates disk compaction and in-memory expiration sweeps,
// sleeping one flush interval between the two phases. The stagger spreads I/O
// and scan cost across the interval instead of bursting both at once.
// Cancellation is cooperative: checked after each sleep, not mid-operation.
func (c *Cache) maintenanceLoop(ctx context.Context, dlog *DiskLog) {
	defer c.wg.Done()

	for {
		if err := dlog.Compact(c.now()); err != nil {
			c.logger.Warnw("Background compaction failed", "path", dlog.Path(), "error", err)
		}

		if !c.sleepFlushInterval(ctx) {
			return
		}

		removed := c.sweepExpired()
		if c.metrics != nil {
			c.metrics.RecordSweep(context.Background(), int64(removed))
		}

		if !c.sleepFlushInterval(ctx) {
			return
		}
	}
}

// sweepExpired removes expired entries from every typed store and returns the
// total removed.
func (c *Cache) sweepExpired() int {
	now := c.now()
	return c.dates.SweepExpired(now) +
		c.ints.SweepExpired(now) +
		c.strings.SweepExpired(now) +
		c.uuids.SweepExpired(now) +
		c.models.SweepExpired(now) +
		c.payloads.SweepExpired(now)
}

// sleepFlushInterval pauses for the current flush interval. Returns false if
// the loop was cancelled while sleeping.
func (c *Cache) sleepFlushInterval(ctx context.Context) bool {
	timer := time.NewTimer(c.FlushInterval())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
