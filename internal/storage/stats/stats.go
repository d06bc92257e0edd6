// Package stats maintains running per-sensor value statistics and
// engine-wide operation counters.
//
// Percentiles use DDSketch with configurable relative accuracy; the
// sketches observe values as they are written, so summaries are
// available without rescanning sectors.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/telemstore/internal/storage/types"
)

// SensorStats holds running statistics for one sensor stream.
type SensorStats struct {
	mu sync.Mutex

	key types.SensorKey

	count int64
	sum   float64
	min   float64
	max   float64

	sketch   *ddsketch.DDSketch
	accuracy float64
}

func newSensorStats(key types.SensorKey, accuracy float64) *SensorStats {
	s := &SensorStats{
		key:      key,
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
		accuracy: accuracy,
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		s.sketch = sketch
	}
	return s
}

// Add observes one written value.
func (s *SensorStats) Add(value uint32) {
	v := float64(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.sketch != nil {
		s.sketch.Add(v)
	}
}

// Summary is a point-in-time statistical summary of a sensor's values.
type Summary struct {
	Key   types.SensorKey
	Count int64
	Sum   float64
	Avg   float64
	Min   float64
	Max   float64
	P50   float64
	P95   float64
	P99   float64
}

// Summary returns the current summary. Percentiles are zero until at
// least one value was observed.
func (s *SensorStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{Key: s.key, Count: s.count, Sum: s.sum}
	if s.count > 0 {
		out.Avg = s.sum / float64(s.count)
		out.Min = s.min
		out.Max = s.max
	}
	if s.sketch != nil && s.count > 0 {
		out.P50, _ = s.sketch.GetValueAtQuantile(0.50)
		out.P95, _ = s.sketch.GetValueAtQuantile(0.95)
		out.P99, _ = s.sketch.GetValueAtQuantile(0.99)
	}
	return out
}

// Reset clears the running statistics. DDSketch has no clear, so the
// sketch is replaced.
func (s *SensorStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = -math.MaxFloat64
	if s.sketch != nil {
		sketch, err := ddsketch.NewDefaultDDSketch(s.accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}
}

// Counters are engine-wide operation totals.
type Counters struct {
	Writes         uint64
	WritesRejected uint64
	Reads          uint64
	Erases         uint64
	Flushes        uint64
	FlushedSectors uint64
	Evictions      uint64
	Recoveries     uint64
}

// Collector aggregates per-sensor statistics plus engine counters and
// flush latency.
type Collector struct {
	accuracy float64

	mu      sync.Mutex
	sensors map[types.SensorKey]*SensorStats
	flush   *ddsketch.DDSketch

	writes         atomic.Uint64
	writesRejected atomic.Uint64
	reads          atomic.Uint64
	erases         atomic.Uint64
	flushes        atomic.Uint64
	flushedSectors atomic.Uint64
	evictions      atomic.Uint64
	recoveries     atomic.Uint64
}

// NewCollector creates a collector with the given DDSketch relative
// accuracy.
func NewCollector(accuracy float64) *Collector {
	c := &Collector{
		accuracy: accuracy,
		sensors:  make(map[types.SensorKey]*SensorStats),
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		c.flush = sketch
	}
	return c
}

// Sensor returns the stats stream for a key, creating it on first use.
func (c *Collector) Sensor(key types.SensorKey) *SensorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sensors[key]
	if !ok {
		s = newSensorStats(key, c.accuracy)
		c.sensors[key] = s
	}
	return s
}

// RecordWrite observes one accepted write.
func (c *Collector) RecordWrite(key types.SensorKey, value uint32) {
	c.writes.Add(1)
	c.Sensor(key).Add(value)
}

// RecordWriteRejected counts a write refused by backpressure or
// saturation.
func (c *Collector) RecordWriteRejected() {
	c.writesRejected.Add(1)
}

// RecordRead counts one consumer read.
func (c *Collector) RecordRead() {
	c.reads.Add(1)
}

// RecordErase counts one erase call.
func (c *Collector) RecordErase() {
	c.erases.Add(1)
}

// RecordFlush observes one completed flush sweep.
func (c *Collector) RecordFlush(d time.Duration, sectors int) {
	c.flushes.Add(1)
	c.flushedSectors.Add(uint64(sectors))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flush != nil {
		c.flush.Add(d.Seconds() * 1000)
	}
}

// RecordEviction counts quota-driven sector evictions.
func (c *Collector) RecordEviction(n int) {
	c.evictions.Add(uint64(n))
}

// RecordRecovery counts one recovered sensor.
func (c *Collector) RecordRecovery() {
	c.recoveries.Add(1)
}

// Counters returns the engine-wide totals.
func (c *Collector) Counters() Counters {
	return Counters{
		Writes:         c.writes.Load(),
		WritesRejected: c.writesRejected.Load(),
		Reads:          c.reads.Load(),
		Erases:         c.erases.Load(),
		Flushes:        c.flushes.Load(),
		FlushedSectors: c.flushedSectors.Load(),
		Evictions:      c.evictions.Load(),
		Recoveries:     c.recoveries.Load(),
	}
}

// FlushLatency returns flush sweep latency percentiles in milliseconds.
func (c *Collector) FlushLatency() (p50, p95, p99 float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flush == nil || c.flushes.Load() == 0 {
		return 0, 0, 0
	}
	p50, _ = c.flush.GetValueAtQuantile(0.50)
	p95, _ = c.flush.GetValueAtQuantile(0.95)
	p99, _ = c.flush.GetValueAtQuantile(0.99)
	return p50, p95, p99
}

// Summaries returns a summary for every sensor observed so far.
func (c *Collector) Summaries() []Summary {
	c.mu.Lock()
	streams := make([]*SensorStats, 0, len(c.sensors))
	for _, s := range c.sensors {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	out := make([]Summary, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Summary())
	}
	return out
}
