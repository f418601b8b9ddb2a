package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewCollector builds a Collector with the default latency buckets.
func NewCollector() *Collector {
	return NewCollectorWithBuckets(DefaultLatencyBuckets)
}

// NewCollectorWithBuckets builds a Collector with custom histogram
// bucket boundaries.
func NewCollectorWithBuckets(buckets []float64) *Collector {
	return &Collector{
		requestCounter:       make(map[string]int64),
		requestHistogram:     make(map[string][]float64),
		signalStatusCount:    make(map[string]int64),
		signalProcessLatency: make(map[string][]float64),
		customHistograms:     make(map[string][]float64),
		customCounters:       make(map[string]int64),
		histogramBuckets:     buckets,
		startTime:            time.Now(),
	}
}

// RecordHTTPRequest increments the HTTP request counter.
func (c *Collector) RecordHTTPRequest(method, path string, status int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.requestCounter[c.buildKey(method, path, status)]++
}

// RecordHTTPDuration records one HTTP request's duration in seconds.
func (c *Collector) RecordHTTPDuration(method, endpoint string, duration float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := c.buildKey(method, endpoint)
	c.requestHistogram[key] = append(c.requestHistogram[key], duration)
}

// RecordSignalProcessed records one dispatcher run's outcome (account,
// "ok" or "error") and the reconciliation's wall-clock duration.
func (c *Collector) RecordSignalProcessed(account, status string, duration float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := c.buildKey(account, status)
	c.signalStatusCount[key]++
	c.signalProcessLatency[account] = append(c.signalProcessLatency[account], duration)
}

// RecordCoalesced increments the count of waiting signals replaced by
// a fresher one before they ever ran (dispatch.Stats.Coalesced).
func (c *Collector) RecordCoalesced() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.dispatchCoalescedTotal++
}

// RecordCustomHistogram records a value under an arbitrary metric name.
func (c *Collector) RecordCustomHistogram(name string, value float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.customHistograms[name] = append(c.customHistograms[name], value)
}

// RecordCustomCounter increments an arbitrary counter by name.
func (c *Collector) RecordCustomCounter(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.customCounters[name]++
}

// GetSnapshot returns a point-in-time view of every recorded metric.
// gauges is supplied by the caller (dispatch.Stats doesn't live in
// this package) — typically the current processing/waiting queue depths.
func (c *Collector) GetSnapshot(gauges []GaugeEntry) MetricSnapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var counters []CounterEntry
	var histograms []HistogramEntry

	for key, count := range c.requestCounter {
		parts := c.parseKey(key, 3)
		if len(parts) >= 3 {
			counters = append(counters, CounterEntry{
				Name:  "http_requests_total",
				Value: count,
				Labels: map[string]string{
					"method": parts[0],
					"path":   parts[1],
					"status": parts[2],
				},
			})
		}
	}

	for key, durations := range c.requestHistogram {
		parts := c.parseKey(key, 2)
		if len(parts) >= 2 {
			for _, d := range durations {
				histograms = append(histograms, HistogramEntry{
					Name:  "http_request_duration_seconds",
					Value: d,
					Labels: map[string]string{
						"method":   parts[0],
						"endpoint": parts[1],
					},
				})
			}
		}
	}

	for key, count := range c.signalStatusCount {
		parts := c.parseKey(key, 2)
		if len(parts) >= 2 {
			counters = append(counters, CounterEntry{
				Name:  "signals_processed_total",
				Value: count,
				Labels: map[string]string{
					"account": parts[0],
					"status":  parts[1],
				},
			})
		}
	}

	for account, durations := range c.signalProcessLatency {
		for _, d := range durations {
			histograms = append(histograms, HistogramEntry{
				Name:   "signal_process_duration_seconds",
				Value:  d,
				Labels: map[string]string{"account": account},
			})
		}
	}

	counters = append(counters, CounterEntry{
		Name:  "dispatch_coalesced_total",
		Value: c.dispatchCoalescedTotal,
	})

	for name, values := range c.customHistograms {
		for _, v := range values {
			histograms = append(histograms, HistogramEntry{Name: name, Value: v, Labels: make(map[string]string)})
		}
	}
	for name, count := range c.customCounters {
		counters = append(counters, CounterEntry{Name: name, Value: count, Labels: make(map[string]string)})
	}

	return MetricSnapshot{
		Counters:   counters,
		Gauges:     gauges,
		Histograms: histograms,
		Timestamp:  time.Now(),
	}
}

// Reset clears every recorded metric. Used by tests.
func (c *Collector) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.requestCounter = make(map[string]int64)
	c.requestHistogram = make(map[string][]float64)
	c.signalStatusCount = make(map[string]int64)
	c.signalProcessLatency = make(map[string][]float64)
	c.dispatchCoalescedTotal = 0
	c.customHistograms = make(map[string][]float64)
	c.customCounters = make(map[string]int64)
	c.startTime = time.Now()
}

// Collect renders every metric in Prometheus text exposition format.
func (c *Collector) Collect(gauges []GaugeEntry) string {
	snapshot := c.GetSnapshot(gauges)
	var lines []string

	uptime := time.Since(c.startTime).Seconds()
	lines = append(lines, "# HELP signaldispatcher_uptime_seconds Time since the server started")
	lines = append(lines, "# TYPE signaldispatcher_uptime_seconds counter")
	lines = append(lines, fmt.Sprintf("signaldispatcher_uptime_seconds %f %d", uptime, snapshot.Timestamp.Unix()))
	lines = append(lines, "")

	counterGroups := make(map[string][]CounterEntry)
	for _, counter := range snapshot.Counters {
		counterGroups[counter.Name] = append(counterGroups[counter.Name], counter)
	}
	for metricName, entries := range counterGroups {
		lines = append(lines, fmt.Sprintf("# HELP %s %s", metricName, getCounterHelp(metricName)))
		lines = append(lines, fmt.Sprintf("# TYPE %s counter", metricName))
		for _, entry := range entries {
			lines = append(lines, fmt.Sprintf("%s%s %d %d", metricName, formatLabels(entry.Labels), entry.Value, snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	gaugeGroups := make(map[string][]GaugeEntry)
	for _, gauge := range snapshot.Gauges {
		gaugeGroups[gauge.Name] = append(gaugeGroups[gauge.Name], gauge)
	}
	for metricName, entries := range gaugeGroups {
		lines = append(lines, fmt.Sprintf("# HELP %s %s", metricName, getGaugeHelp(metricName)))
		lines = append(lines, fmt.Sprintf("# TYPE %s gauge", metricName))
		for _, entry := range entries {
			lines = append(lines, fmt.Sprintf("%s%s %f %d", metricName, formatLabels(entry.Labels), entry.Value, snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	histogramGroups := make(map[string][]HistogramEntry)
	for _, h := range snapshot.Histograms {
		histogramGroups[h.Name] = append(histogramGroups[h.Name], h)
	}
	for metricName, histograms := range histogramGroups {
		lines = append(lines, fmt.Sprintf("# HELP %s %s", metricName, getHistogramHelp(metricName)))
		lines = append(lines, fmt.Sprintf("# TYPE %s histogram", metricName))

		labelGroups := make(map[string][]float64)
		for _, h := range histograms {
			labelGroups[formatLabels(h.Labels)] = append(labelGroups[formatLabels(h.Labels)], h.Value)
		}

		for labelKey, values := range labelGroups {
			bucketCounts := c.calculateBucketCounts(values)
			for i, bucketLimit := range c.histogramBuckets {
				lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d",
					metricName, addBucketLabel(labelKey, bucketLimit), bucketCounts[i], snapshot.Timestamp.Unix()))
			}
			lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d",
				metricName, addBucketLabel(labelKey, "+Inf"), len(values), snapshot.Timestamp.Unix()))

			sum := 0.0
			for _, v := range values {
				sum += v
			}
			lines = append(lines, fmt.Sprintf("%s_sum%s %f %d", metricName, labelKey, sum, snapshot.Timestamp.Unix()))
			lines = append(lines, fmt.Sprintf("%s_count%s %d %d", metricName, labelKey, len(values), snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func (c *Collector) buildKey(parts ...interface{}) string {
	var key string
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		switch v := part.(type) {
		case string:
			key += v
		case int:
			key += strconv.Itoa(v)
		}
	}
	return key
}

func (c *Collector) parseKey(key string, expectedParts int) []string {
	parts := make([]string, 0, expectedParts)
	current := ""
	for _, char := range key {
		if char == ':' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(char)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

func getCounterHelp(metricName string) string {
	switch metricName {
	case "http_requests_total":
		return "Total number of HTTP requests"
	case "signals_processed_total":
		return "Total number of signals processed, by account and outcome"
	case "dispatch_coalesced_total":
		return "Total number of waiting signals replaced by a fresher one before running"
	default:
		return "Custom counter metric"
	}
}

func getGaugeHelp(metricName string) string {
	switch metricName {
	case "dispatch_queue_depth":
		return "Current number of signals in the processing or waiting state, by state"
	default:
		return "Custom gauge metric"
	}
}

func getHistogramHelp(metricName string) string {
	switch metricName {
	case "http_request_duration_seconds":
		return "HTTP request duration in seconds"
	case "signal_process_duration_seconds":
		return "Signal reconciliation duration in seconds, by account"
	default:
		return "Custom histogram metric"
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range labels {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, key, value))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func addBucketLabel(existingLabels string, bucketLimit interface{}) string {
	bucketLimitStr := fmt.Sprintf("%v", bucketLimit)
	if existingLabels == "" || existingLabels == "{}" {
		return fmt.Sprintf(`{le="%s"}`, bucketLimitStr)
	}
	trimmed := strings.TrimSuffix(existingLabels, "}")
	return fmt.Sprintf(`%s,le="%s"}`, trimmed, bucketLimitStr)
}

func (c *Collector) calculateBucketCounts(values []float64) []int {
	bucketCounts := make([]int, len(c.histogramBuckets))
	for _, value := range values {
		for i, bucketLimit := range c.histogramBuckets {
			if value <= bucketLimit {
				bucketCounts[i]++
			}
		}
	}
	for i := 1; i < len(bucketCounts); i++ {
		bucketCounts[i] += bucketCounts[i-1]
	}
	return bucketCounts
}
