package metrics

import (
	"sync"
	"time"
)

// Collector accumulates Prometheus-exposition-format metrics over the
// HTTP front and the dispatch/process pipeline, adapted from the
// teacher's Collector (HTTP + order + websocket counters generalized
// to HTTP + signal-processing counters; websocket counters dropped —
// the price-feed websocket connection is not instrumented).
type Collector struct {
	requestCounter   map[string]int64
	requestHistogram map[string][]float64

	signalStatusCount      map[string]int64
	signalProcessLatency   map[string][]float64
	dispatchCoalescedTotal int64

	customHistograms map[string][]float64
	customCounters   map[string]int64

	mutex sync.RWMutex

	histogramBuckets []float64
	startTime        time.Time
}

// HistogramEntry is one histogram data point.
type HistogramEntry struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// CounterEntry is one counter data point.
type CounterEntry struct {
	Name   string
	Value  int64
	Labels map[string]string
}

// GaugeEntry is one instantaneous value, unlike CounterEntry it can go
// down — used for queue depth.
type GaugeEntry struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// MetricSnapshot is a point-in-time view of every metric kind.
type MetricSnapshot struct {
	Counters   []CounterEntry
	Gauges     []GaugeEntry
	Histograms []HistogramEntry
	Timestamp  time.Time
}

// DefaultLatencyBuckets are the histogram boundaries (seconds) used
// for signal processing and HTTP request duration.
var DefaultLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}
