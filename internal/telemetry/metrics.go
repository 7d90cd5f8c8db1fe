// metrics.go - In-process metrics for the auction engine.

package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// histogramWindow caps the samples kept per histogram series.
const histogramWindow = 1000

// Metric is the latest observation of one series.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector stores counters, gauges and bounded histograms keyed by
// name and labels. A nil collector ignores all writes.
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.counters[key]++
	mc.update(key, name, Counter, float64(mc.counters[key]), labels)
}

func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.gauges[key] = value
	mc.update(key, name, Gauge, value, labels)
}

func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	values := append(mc.histograms[key], value)
	if len(values) > histogramWindow {
		values = values[len(values)-histogramWindow:]
	}
	mc.histograms[key] = values
	mc.update(key, name, Histogram, value, labels)
}

// Counter returns the current value of a counter series.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) int64 {
	if mc == nil {
		return 0
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[makeKey(name, labels)]
}

// GetMetric retrieves the latest observation of a series.
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	m, ok := mc.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

// GetMetricsSummary returns counters, gauges and histogram statistics.
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	counters := make(map[string]int64, len(mc.counters))
	for key, v := range mc.counters {
		counters[key] = v
	}
	gauges := make(map[string]float64, len(mc.gauges))
	for key, v := range mc.gauges {
		gauges[key] = v
	}

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
		}
		sum := 0.0
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			sum += v
		}
		h["sum"] = sum
		h["avg"] = sum / h["count"]
		histograms[key] = h
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// Reset drops all series.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
	mc.counters = make(map[string]int64)
	mc.gauges = make(map[string]float64)
	mc.histograms = make(map[string][]float64)
}

// makeKey builds a deterministic series key with labels sorted by name.
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("_")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (mc *MetricsCollector) update(key, name string, metricType MetricType, value float64, labels map[string]string) {
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Metric names
const (
	MetricAuctionsCreated    = "auctions_created"
	MetricAuctionsClosed     = "auctions_closed"
	MetricPhaseTransitions   = "phase_transitions"
	MetricSealedBids         = "sealed_bids"
	MetricReveals            = "reveals"
	MetricRejections         = "rejections"
	MetricVerificationTime   = "proof_verification_seconds"
	MetricRevealedPerAuction = "revealed_bids"
	MetricArchiveFailures    = "archive_failures"
	MetricNotifyFailures     = "notify_failures"
)

func (mc *MetricsCollector) RecordAuctionCreated() {
	mc.IncrementCounter(MetricAuctionsCreated, nil)
}

func (mc *MetricsCollector) RecordPhaseTransition(to string) {
	mc.IncrementCounter(MetricPhaseTransitions, map[string]string{"to": to})
}

func (mc *MetricsCollector) RecordSealedBid() {
	mc.IncrementCounter(MetricSealedBids, nil)
}

func (mc *MetricsCollector) RecordReveal() {
	mc.IncrementCounter(MetricReveals, nil)
}

// RecordClose counts a close and records how many bids were revealed.
func (mc *MetricsCollector) RecordClose(forced bool, revealed int) {
	kind := "normal"
	if forced {
		kind = "forced"
	}
	mc.IncrementCounter(MetricAuctionsClosed, map[string]string{"kind": kind})
	mc.RecordHistogram(MetricRevealedPerAuction, float64(revealed), nil)
}

// RecordRejection counts a failed operation by error kind.
func (mc *MetricsCollector) RecordRejection(op, kind string) {
	mc.IncrementCounter(MetricRejections, map[string]string{"op": op, "kind": kind})
}

func (mc *MetricsCollector) RecordVerification(d time.Duration) {
	mc.RecordHistogram(MetricVerificationTime, d.Seconds(), nil)
}

func (mc *MetricsCollector) RecordArchiveFailure() {
	mc.IncrementCounter(MetricArchiveFailures, nil)
}

func (mc *MetricsCollector) RecordNotifyFailure() {
	mc.IncrementCounter(MetricNotifyFailures, nil)
}
