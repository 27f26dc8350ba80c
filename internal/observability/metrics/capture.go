package metrics

import (
	"sync"
	"time"
)

// Measurement is one value recorded by CaptureSink.
type Measurement struct {
	Kind  string
	Name  string
	Value float64
	Tags  map[string]string
}

// CaptureSink keeps measurements in memory.
type CaptureSink struct {
	mu   sync.Mutex
	list []Measurement
}

var _ Sink = (*CaptureSink)(nil)

// Count implements Sink.
func (c *CaptureSink) Count(name string, value int64, tags map[string]string) {
	c.add(Measurement{Kind: "count", Name: name, Value: float64(value), Tags: CloneTags(tags)})
}

// Gauge implements Sink.
func (c *CaptureSink) Gauge(name string, value float64, tags map[string]string) {
	c.add(Measurement{Kind: "gauge", Name: name, Value: value, Tags: CloneTags(tags)})
}

// Timing implements Sink.
func (c *CaptureSink) Timing(name string, value time.Duration, tags map[string]string) {
	c.add(Measurement{Kind: "timing", Name: name, Value: float64(value), Tags: CloneTags(tags)})
}

func (c *CaptureSink) add(m Measurement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, m)
}

// Measurements returns a copy of everything recorded so far.
func (c *CaptureSink) Measurements() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Measurement(nil), c.list...)
}

// Reset drops everything recorded so far.
func (c *CaptureSink) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = nil
}

// Sum totals the values recorded under name whose tags include match.
func (c *CaptureSink) Sum(name string, match map[string]string) float64 {
	var total float64
	for _, m := range c.Measurements() {
		if m.Name != name || !tagsMatch(m.Tags, match) {
			continue
		}
		total += m.Value
	}
	return total
}

func tagsMatch(tags, match map[string]string) bool {
	for k, v := range match {
		if tags[k] != v {
			return false
		}
	}
	return true
}
