package ui

import (
	"fmt"
	"io"
	"time"
)

// DaemonStatus summarizes daemon health for CLI display.
type DaemonStatus struct {
	SessionCount    int
	CaptureCount    int
	ChunkCount      int
	VectorCount     int
	QueueDepth      int
	EmbeddingOnline bool
	EmbeddingModel  string
	Uptime          time.Duration
}

// StatusRenderer renders daemon status to a terminal or plain writer.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	rate    *Sparkline
	noColor bool
}

// NewStatusRenderer creates a status renderer. rateWidth controls how many
// capture-rate samples the embedded sparkline retains.
func NewStatusRenderer(out io.Writer, noColor bool, rateWidth int) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  DefaultStyles(),
		rate:    NewSparkline(rateWidth),
		noColor: noColor,
	}
}

// Sample records a captures-per-interval observation for the throughput
// sparkline shown by Render.
func (r *StatusRenderer) Sample(capturesPerInterval float64) {
	r.rate.Add(capturesPerInterval)
}

// Render prints a snapshot of daemon status.
func (r *StatusRenderer) Render(s DaemonStatus) {
	label := r.styles.Label
	if r.noColor {
		label = label.UnsetForeground()
	}

	_, _ = fmt.Fprintf(r.out, "%s %d\n", label.Render("sessions:"), s.SessionCount)
	_, _ = fmt.Fprintf(r.out, "%s %d\n", label.Render("captures:"), s.CaptureCount)
	_, _ = fmt.Fprintf(r.out, "%s %d\n", label.Render("chunks:"), s.ChunkCount)
	_, _ = fmt.Fprintf(r.out, "%s %d\n", label.Render("vectors:"), s.VectorCount)
	_, _ = fmt.Fprintf(r.out, "%s %d\n", label.Render("queue depth:"), s.QueueDepth)

	embedding := "offline (lexical search only)"
	if s.EmbeddingOnline {
		embedding = fmt.Sprintf("online (%s)", s.EmbeddingModel)
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n", label.Render("embedding:"), embedding)
	_, _ = fmt.Fprintf(r.out, "%s %s\n", label.Render("uptime:"), s.Uptime.Round(time.Second))

	if r.rate.Count() > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", label.Render("capture rate:"), r.rate.Render())
	}
}
