package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

// Line writes one line per event, for CI logs and other non-interactive output.
type Line struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLine creates a line reporter writing to out.
func NewLine(out io.Writer) *Line {
	return &Line{out: out}
}

func (l *Line) Handle(ev orchestration.Event) {
	var msg string
	switch ev.Kind {
	case orchestration.HostConnected:
		msg = fmt.Sprintf("[%s] Connected", ev.Host)
	case orchestration.HostConnectFailed:
		msg = fmt.Sprintf("[%s] %s", ev.Host, red(fmt.Sprintf("Connection failed: %v", ev.Err)))
	case orchestration.OpStarted:
		msg = "Starting: " + opName(ev.Op)
	case orchestration.OpHostSucceeded:
		msg = fmt.Sprintf("[%s] %s... %s", ev.Host, opName(ev.Op), green("success"))
	case orchestration.OpHostFailed:
		msg = fmt.Sprintf("[%s] %s... %s", ev.Host, opName(ev.Op), red("failed"))
	default:
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, msg)
}

func (l *Line) Start()       {}
func (l *Line) MarkAllDone() {}
func (l *Line) Stop()        {}

func opName(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
