// Package components holds small pure render helpers shared by the TUI
// views.
package components

import (
	"fmt"
	"strings"

	"github.com/tmkoval/pillsync/internal/style"
	"github.com/tmkoval/pillsync/internal/util"
)

// ProgressBarConfig defines the configuration for a progress bar.
type ProgressBarConfig struct {
	Width      int
	ShowFrames bool
	ShowBytes  bool
}

// DefaultProgressConfig returns the configuration used by the send flow.
func DefaultProgressConfig() ProgressBarConfig {
	return ProgressBarConfig{
		Width:      40,
		ShowFrames: true,
		ShowBytes:  true,
	}
}

// ProgressData is a snapshot of a transfer's dispatch progress.
type ProgressData struct {
	FramesSent  uint32
	TotalFrames uint32
	BytesSent   int64
	TotalBytes  int64
}

// ProgressBar renders frame-level transfer progress. It holds no
// mutable transfer state; the view feeds it fresh data every render.
type ProgressBar struct {
	config ProgressBarConfig
}

// NewProgressBar creates a progress bar with the given configuration.
func NewProgressBar(config ProgressBarConfig) *ProgressBar {
	if config.Width <= 0 {
		config.Width = DefaultProgressConfig().Width
	}
	return &ProgressBar{config: config}
}

// Render returns the bar line for data, e.g.
// "[████░░░░] 50% (2/4 frames, 40 B / 85 B)".
func (pb *ProgressBar) Render(data ProgressData) string {
	ratio := 0.0
	if data.TotalFrames > 0 {
		ratio = float64(data.FramesSent) / float64(data.TotalFrames)
	}
	if ratio > 1 {
		ratio = 1
	}

	var s strings.Builder
	s.WriteString(pb.renderBar(ratio))
	s.WriteString(fmt.Sprintf(" %3.0f%%", ratio*100))

	var details []string
	if pb.config.ShowFrames {
		details = append(details, fmt.Sprintf("%d/%d frames", data.FramesSent, data.TotalFrames))
	}
	if pb.config.ShowBytes && data.TotalBytes > 0 {
		details = append(details, fmt.Sprintf("%s / %s",
			util.FormatSize(data.BytesSent), util.FormatSize(data.TotalBytes)))
	}
	if len(details) > 0 {
		s.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	return s.String()
}

func (pb *ProgressBar) renderBar(ratio float64) string {
	filled := int(ratio * float64(pb.config.Width))
	if filled > pb.config.Width {
		filled = pb.config.Width
	}
	empty := pb.config.Width - filled

	return "[" +
		style.ProgressFilledStyle.Render(strings.Repeat("█", filled)) +
		style.ProgressEmptyStyle.Render(strings.Repeat("░", empty)) +
		"]"
}
