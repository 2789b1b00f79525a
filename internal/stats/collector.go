package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks run statistics using lock-free atomic counters.
type Collector struct {
	entriesScanned atomic.Int64
	bytesHashed    atomic.Int64
	attrErrors     atomic.Int64
	readErrors     atomic.Int64
	recordsRead    atomic.Int64
	recordsKept    atomic.Int64
	recordsSkipped atomic.Int64
	recordsFreed   atomic.Int64
	startTime      time.Time

	// Ring buffer, written only by Tick.
	mu          sync.Mutex
	entriesRing [ringSize]int64 // entries delta per second
	ringIdx     int
	ringCount   int // samples written, capped at ringSize
	lastEntries int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesScanned int64
	BytesHashed    int64
	AttrErrors     int64
	ReadErrors     int64
	RecordsRead    int64
	RecordsKept    int64
	RecordsSkipped int64
	RecordsFreed   int64
	Elapsed        time.Duration
}

func (c *Collector) AddEntriesScanned(n int64) { c.entriesScanned.Add(n) }
func (c *Collector) AddBytesHashed(n int64)    { c.bytesHashed.Add(n) }
func (c *Collector) AddAttrErrors(n int64)     { c.attrErrors.Add(n) }
func (c *Collector) AddReadErrors(n int64)     { c.readErrors.Add(n) }
func (c *Collector) AddRecordsRead(n int64)    { c.recordsRead.Add(n) }
func (c *Collector) AddRecordsKept(n int64)    { c.recordsKept.Add(n) }
func (c *Collector) AddRecordsSkipped(n int64) { c.recordsSkipped.Add(n) }
func (c *Collector) AddRecordsFreed(n int64)   { c.recordsFreed.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesScanned: c.entriesScanned.Load(),
		BytesHashed:    c.bytesHashed.Load(),
		AttrErrors:     c.attrErrors.Load(),
		ReadErrors:     c.readErrors.Load(),
		RecordsRead:    c.recordsRead.Load(),
		RecordsKept:    c.recordsKept.Load(),
		RecordsSkipped: c.recordsSkipped.Load(),
		RecordsFreed:   c.recordsFreed.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Tick snapshots the scanned-entry delta into the ring buffer. Called once
// per second by the CLI progress logger.
func (c *Collector) Tick() {
	current := c.entriesScanned.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entriesRing[c.ringIdx] = current - c.lastEntries
	c.lastEntries = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingEntriesPerSec returns the average scan rate over the last n
// seconds of samples.
func (c *Collector) RollingEntriesPerSec(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.entriesRing[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"scanned=%d hashed=%d read=%d kept=%d skipped=%d freed=%d attr_errors=%d read_errors=%d",
		s.EntriesScanned, s.BytesHashed, s.RecordsRead, s.RecordsKept,
		s.RecordsSkipped, s.RecordsFreed, s.AttrErrors, s.ReadErrors,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
