package metrics

import (
	"sync/atomic"
	"time"
)

// Collector counts HTTP traffic and scoring activity. A nil *Collector is valid and records nothing.
type Collector struct {
	totalRequests    uint64
	errorRequests    uint64
	rateLimited      uint64
	totalDurationMs  uint64
	recalculations   uint64
	lockedRecomputes uint64
	finalized        uint64
	lockWaitMs       uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) RecordRecalculation() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.recalculations, 1)
}

// RecordLockedRecompute counts recalculations refused because the result was finalized.
func (c *Collector) RecordLockedRecompute() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.lockedRecomputes, 1)
}

func (c *Collector) RecordFinalized(n int) {
	if c == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&c.finalized, uint64(n))
}

func (c *Collector) RecordLockWait(d time.Duration) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.lockWaitMs, uint64(d.Milliseconds()))
}

func (c *Collector) Snapshot() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":         total,
		"errorsTotal":           errs,
		"rateLimitedTotal":      limited,
		"avgDurationMs":         avg,
		"totalDurationMs":       totalMs,
		"recalculationsTotal":   atomic.LoadUint64(&c.recalculations),
		"lockedRecomputesTotal": atomic.LoadUint64(&c.lockedRecomputes),
		"finalizedTotal":        atomic.LoadUint64(&c.finalized),
		"lockWaitMsTotal":       atomic.LoadUint64(&c.lockWaitMs),
	}
}
