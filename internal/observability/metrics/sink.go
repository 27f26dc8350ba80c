package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every bms-ingest instrument.
const MeterName = "github.com/target/bms-ingest"

// Sink describes the minimal interface required to emit counters, gauges and timings.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// NopSink discards every measurement.
type NopSink struct{}

// Count implements Sink.
func (NopSink) Count(string, int64, map[string]string) {}

// Gauge implements Sink.
func (NopSink) Gauge(string, float64, map[string]string) {}

// Timing implements Sink.
func (NopSink) Timing(string, time.Duration, map[string]string) {}

// OTelSink records Sink measurements through OpenTelemetry instruments,
// creating each instrument on first use. It is safe for concurrent use.
type OTelSink struct {
	meter      metric.Meter
	globalTags map[string]string

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

var _ Sink = (*OTelSink)(nil)

// NewOTelSink builds a sink on mp, or the global MeterProvider when mp is nil.
func NewOTelSink(mp metric.MeterProvider, globalTags map[string]string) *OTelSink {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return &OTelSink{
		meter:      mp.Meter(MeterName),
		globalTags: CloneTags(globalTags),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Count increments a counter instrument.
func (s *OTelSink) Count(name string, value int64, tags map[string]string) {
	if s == nil {
		return
	}
	c, ok := s.counter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(s.attrs(tags)...))
}

// Gauge records the current value of a gauge instrument.
func (s *OTelSink) Gauge(name string, value float64, tags map[string]string) {
	if s == nil {
		return
	}
	g, ok := s.gauge(name)
	if !ok {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(s.attrs(tags)...))
}

// Timing records a duration in milliseconds on a histogram instrument.
func (s *OTelSink) Timing(name string, value time.Duration, tags map[string]string) {
	if s == nil {
		return
	}
	h, ok := s.histogram(name)
	if !ok {
		return
	}
	ms := float64(value) / float64(time.Millisecond)
	h.Record(context.Background(), ms, metric.WithAttributes(s.attrs(tags)...))
}

func (s *OTelSink) counter(name string) (metric.Int64Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, true
	}
	c, err := s.meter.Int64Counter(name)
	if err != nil {
		return nil, false
	}
	s.counters[name] = c
	return c, true
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, true
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		return nil, false
	}
	s.gauges[name] = g
	return g, true
}

func (s *OTelSink) histogram(name string) (metric.Float64Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, true
	}
	h, err := s.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, false
	}
	s.histograms[name] = h
	return h, true
}

func (s *OTelSink) attrs(tags map[string]string) []attribute.KeyValue {
	merged := make(map[string]string, len(s.globalTags)+len(tags))
	for k, v := range s.globalTags {
		merged[k] = v
	}
	for k, v := range tags {
		if k == "" {
			continue
		}
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, merged[k]))
	}
	return out
}
