package orchestration

import "time"

// EventKind enumerates the lifecycle events an Engine emits.
type EventKind int

const (
	HostConnecting EventKind = iota
	HostConnected
	HostConnectFailed
	// OpStarted fires once per operation before any host runs it.
	OpStarted
	OpHostStarted
	OpHostSucceeded
	OpHostFailed
	// OpEnded fires once every host has finished the operation.
	OpEnded
)

func (k EventKind) String() string {
	switch k {
	case HostConnecting:
		return "host-connecting"
	case HostConnected:
		return "host-connected"
	case HostConnectFailed:
		return "host-connect-failed"
	case OpStarted:
		return "op-started"
	case OpHostStarted:
		return "op-host-started"
	case OpHostSucceeded:
		return "op-host-succeeded"
	case OpHostFailed:
		return "op-host-failed"
	case OpEnded:
		return "op-ended"
	}
	return "unknown"
}

// Event is a single lifecycle notification. Host is empty for OpStarted and
// OpEnded; Op is empty for connection events.
type Event struct {
	Kind EventKind
	Host string
	Op   string
	Err  error
	Time time.Time
}

// EventSink receives events. Handle may be called concurrently from the
// goroutines serving different hosts.
type EventSink interface {
	Handle(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Handle(ev Event) { f(ev) }
