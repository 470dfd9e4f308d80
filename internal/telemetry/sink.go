package telemetry

import (
	"sync"
	"time"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

const (
	MetricConnectDuration = "host_connect_duration"
	MetricConnectFailures = "host_connect_failures"
	MetricOpDuration      = "op_host_duration"
	MetricOpFailures      = "op_host_failures"
)

// RunSink turns orchestration events into metrics: connect and per-host
// operation durations plus failure counts.
type RunSink struct {
	c *Collector

	mu      sync.Mutex
	started map[string]time.Time
}

// NewRunSink returns a sink recording into c.
func NewRunSink(c *Collector) *RunSink {
	return &RunSink{c: c, started: map[string]time.Time{}}
}

func (s *RunSink) Handle(ev orchestration.Event) {
	at := ev.Time
	if at.IsZero() {
		at = s.c.now()
	}
	labels := map[string]string{"host": ev.Host}
	if ev.Op != "" {
		labels["op"] = ev.Op
	}

	switch ev.Kind {
	case orchestration.HostConnecting:
		s.mark("connect/"+ev.Host, at)
	case orchestration.HostConnected:
		if d, ok := s.since("connect/"+ev.Host, at); ok {
			s.c.Timer(MetricConnectDuration, d, labels)
		}
	case orchestration.HostConnectFailed:
		s.since("connect/"+ev.Host, at)
		s.c.Counter(MetricConnectFailures, 1, labels)
	case orchestration.OpHostStarted:
		s.mark("op/"+ev.Host, at)
	case orchestration.OpHostSucceeded:
		if d, ok := s.since("op/"+ev.Host, at); ok {
			s.c.Timer(MetricOpDuration, d, labels)
		}
	case orchestration.OpHostFailed:
		if d, ok := s.since("op/"+ev.Host, at); ok {
			s.c.Timer(MetricOpDuration, d, labels)
		}
		s.c.Counter(MetricOpFailures, 1, labels)
	}
}

func (s *RunSink) mark(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[key] = at
}

func (s *RunSink) since(key string, at time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.started[key]
	if !ok {
		return 0, false
	}
	delete(s.started, key)
	return at.Sub(start), true
}
