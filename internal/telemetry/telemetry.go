// Package telemetry collects per-run metrics from orchestration events and
// flushes them to the structured log.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
)

// Metric represents a telemetry metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers metrics until Flush.
type Collector struct {
	mu      sync.RWMutex
	metrics []Metric
	now     func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// Counter records an increment of a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.add(Metric{Name: name, Type: Counter, Value: value, Labels: labels})
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, d time.Duration, labels map[string]string) {
	c.add(Metric{Name: name, Type: Timer, Value: float64(d.Milliseconds()), Labels: labels, Unit: "ms"})
}

func (c *Collector) add(m Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Timestamp = c.now()
	c.metrics = append(c.metrics, m)
}

// Metrics returns a copy of the buffered metrics.
func (c *Collector) Metrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

// Sum adds up every buffered value of the named metric.
func (c *Collector) Sum(name string) float64 {
	var total float64
	for _, m := range c.Metrics() {
		if m.Name == name {
			total += m.Value
		}
	}
	return total
}

// Flush writes buffered metrics to logger at debug level and clears the buffer.
func (c *Collector) Flush(logger *zerolog.Logger) {
	c.mu.Lock()
	metrics := c.metrics
	c.metrics = nil
	c.mu.Unlock()

	if logger == nil {
		logger = &log.Logger
	}
	for _, m := range metrics {
		ev := logger.Debug().
			Str("name", m.Name).
			Str("type", string(m.Type)).
			Float64("value", m.Value).
			Time("timestamp", m.Timestamp)
		if m.Unit != "" {
			ev = ev.Str("unit", m.Unit)
		}
		for k, v := range m.Labels {
			ev = ev.Str(k, v)
		}
		ev.Msg("telemetry_metric")
	}
}
