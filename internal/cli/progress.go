package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/glorpus-work/gvm/pkg/logger"
	"github.com/glorpus-work/gvm/pkg/orchestrator"
	"github.com/sirupsen/logrus"
)

// reporter renders orchestrator events and download progress on the
// terminal. The core invokes it through the Hooks sinks; it keeps all UI
// state on this side of the boundary.
type reporter struct {
	phase   *color.Color
	barLive bool
}

func newReporter(noColor bool) *reporter {
	c := color.New(color.FgCyan, color.Bold)
	if noColor {
		c.DisableColor()
	}
	return &reporter{phase: c}
}

func (r *reporter) onEvent(e orchestrator.Event) {
	r.finishBar()
	label := e.Phase
	if e.Version != "" {
		label = fmt.Sprintf("%s go%s", e.Phase, e.Version)
	}
	if e.Msg != "" {
		label += " (" + e.Msg + ")"
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", r.phase.Sprint("==>"), label)

	if verbose() {
		logger.Debug("phase change", logrus.Fields{"phase": e.Phase, "version": e.Version, "detail": e.Msg})
	}
}

// onProgress draws a carriage-return progress bar. Calls arrive at a
// bounded rate from the downloader's reporter task.
func (r *reporter) onProgress(done, total int64, elapsed time.Duration) {
	if total <= 0 {
		fmt.Fprintf(os.Stderr, "\r  %s downloaded", formatBytes(done))
		r.barLive = true
		return
	}

	const width = 30
	ratio := float64(done) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * width)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)

	speed := ""
	if secs := elapsed.Seconds(); secs > 0.5 {
		speed = fmt.Sprintf(" %s/s", formatBytes(int64(float64(done)/secs)))
	}
	fmt.Fprintf(os.Stderr, "\r  [%s] %5.1f%% %s/%s%s",
		bar, ratio*100, formatBytes(done), formatBytes(total), speed)
	r.barLive = true

	if done >= total {
		r.finishBar()
	}
}

func (r *reporter) finishBar() {
	if r.barLive {
		fmt.Fprintln(os.Stderr)
		r.barLive = false
	}
}

func formatBytes(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2f GiB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.1f MiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.1f KiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
