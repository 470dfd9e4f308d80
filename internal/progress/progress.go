// Package progress renders orchestration events either as a live-redrawn
// host table (interactive terminals) or as one log line per event.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

// Reporter is an event sink with a render lifecycle. Reporters only observe;
// they never affect the run they report on.
type Reporter interface {
	orchestration.EventSink
	// Start begins rendering. Call before the first event.
	Start()
	// MarkAllDone marks every host not in a failure state as done.
	MarkAllDone()
	// Stop renders a final frame and releases the refresh loop.
	Stop()
}

// New returns a Live reporter when interactive is true and a Line reporter otherwise.
func New(out io.Writer, interactive bool) Reporter {
	if interactive {
		return NewLive(out)
	}
	return NewLine(out)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
