package metrics

import (
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := New()
	c.Record(200, 10*time.Millisecond)
	c.Record(500, 30*time.Millisecond)
	c.Record(429, 0)
	c.RecordRecalculation()
	c.RecordLockedRecompute()
	c.RecordFinalized(3)
	c.RecordFinalized(0)

	snap := c.Snapshot()
	if snap["requestsTotal"] != uint64(3) || snap["errorsTotal"] != uint64(1) || snap["rateLimitedTotal"] != uint64(1) {
		t.Fatalf("unexpected request counters %v", snap)
	}
	if snap["avgDurationMs"] != float64(40)/3 {
		t.Fatalf("unexpected avg %v", snap["avgDurationMs"])
	}
	if snap["finalizedTotal"] != uint64(3) || snap["lockedRecomputesTotal"] != uint64(1) || snap["recalculationsTotal"] != uint64(1) {
		t.Fatalf("unexpected scoring counters %v", snap)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Record(200, time.Second)
	c.RecordFinalized(2)
	c.RecordLockWait(time.Second)
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot")
	}
}
