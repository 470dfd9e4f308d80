package progress

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
	"github.com/saorsa-labs/saorsa-deploy/pkg/api"
)

const (
	refreshInterval = 250 * time.Millisecond

	moveUp    = "\033[%dA"
	clearDown = "\033[J"
)

// Braille dots, the same frames the CLI spinner uses.
var spinnerFrames = spinner.CharSets[14]

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorDim    = lipgloss.Color("#6b7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	activeStyle = lipgloss.NewStyle().Foreground(colorYellow)
	doneStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	borderStyle = lipgloss.NewStyle().Foreground(colorDim)
)

type hostState struct {
	status api.HostStatus
	op     string
	start  time.Time
}

// Live keeps a per-host status map and redraws it as a table at a fixed cadence.
type Live struct {
	out      io.Writer
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	hosts     map[string]*hostState
	tick      int
	lastLines int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewLive creates a live renderer writing to out.
func NewLive(out io.Writer) *Live {
	return &Live{
		out:      out,
		interval: refreshInterval,
		now:      time.Now,
		hosts:    map[string]*hostState{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *Live) Handle(ev orchestration.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case orchestration.HostConnecting:
		h := l.host(ev.Host)
		h.status = api.HostConnecting
		h.start = l.now()
	case orchestration.HostConnected:
		l.host(ev.Host).status = api.HostConnected
	case orchestration.HostConnectFailed:
		l.host(ev.Host).status = api.HostConnectError
	case orchestration.OpHostStarted:
		h := l.host(ev.Host)
		h.status = api.HostRunning
		h.op = ev.Op
	case orchestration.OpHostFailed:
		l.host(ev.Host).status = api.HostFailed
	case orchestration.OpEnded:
		for _, h := range l.hosts {
			if h.status == api.HostRunning {
				h.status = api.HostConnected
			}
		}
	}
}

// host returns the state for name, creating it on first sight. l.mu must be held.
func (l *Live) host(name string) *hostState {
	h, ok := l.hosts[name]
	if !ok {
		h = &hostState{start: l.now()}
		l.hosts[name] = h
	}
	return h
}

// Status returns the current status of a host.
func (l *Live) Status(name string) (api.HostStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hosts[name]
	if !ok {
		return "", false
	}
	return h.status, true
}

func (l *Live) MarkAllDone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.hosts {
		if !h.status.Terminal() {
			h.status = api.HostDone
		}
	}
}

// Start launches the refresh loop. It is a no-op after the first call.
func (l *Live) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.redraw()
			}
		}
	}()
}

// Stop ends the refresh loop and draws the final table.
func (l *Live) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		if started {
			<-l.done
		}
		l.redraw()
	})
}

func (l *Live) redraw() {
	l.mu.Lock()
	defer l.mu.Unlock()
	frame := l.render()

	var b strings.Builder
	if l.lastLines > 0 {
		fmt.Fprintf(&b, moveUp, l.lastLines)
		b.WriteString("\r" + clearDown)
	}
	b.WriteString(frame)
	b.WriteString("\n")
	_, _ = io.WriteString(l.out, b.String())
	l.lastLines = strings.Count(frame, "\n") + 1
}

// Render returns the current table and advances the spinner.
func (l *Live) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.render()
}

// render builds the table. l.mu must be held.
func (l *Live) render() string {
	now := l.now()
	l.tick++
	frame := spinnerFrames[l.tick%len(spinnerFrames)]

	names := make([]string, 0, len(l.hosts))
	for name := range l.hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		h := l.hosts[name]
		elapsed := formatElapsed(int(now.Sub(h.start).Seconds()))
		rows = append(rows, []string{name, statusCell(h, frame), elapsed})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Host", "Status", "Elapsed").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func statusCell(h *hostState, frame string) string {
	switch h.status {
	case api.HostConnecting:
		return activeStyle.Render(frame + " connecting...")
	case api.HostRunning:
		op := h.op
		if op == "" {
			op = "running..."
		}
		return activeStyle.Render(frame + " " + op)
	case api.HostDone:
		return doneStyle.Render("✓ done")
	case api.HostFailed:
		return failedStyle.Render("✗ failed")
	case api.HostConnectError:
		return failedStyle.Render("✗ connection failed")
	}
	return dimStyle.Render(string(h.status))
}
