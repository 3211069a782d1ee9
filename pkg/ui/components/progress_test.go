package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarRender(t *testing.T) {
	pb := NewProgressBar(ProgressBarConfig{Width: 10, ShowFrames: true, ShowBytes: true})

	tests := []struct {
		name     string
		data     ProgressData
		contains []string
	}{
		{
			name:     "halfway",
			data:     ProgressData{FramesSent: 2, TotalFrames: 4, BytesSent: 40, TotalBytes: 85},
			contains: []string{"50%", "2/4 frames", "40 B / 85 B"},
		},
		{
			name:     "complete",
			data:     ProgressData{FramesSent: 3, TotalFrames: 3, BytesSent: 45, TotalBytes: 45},
			contains: []string{"100%", "3/3 frames"},
		},
		{
			name:     "nothing dispatched yet",
			data:     ProgressData{TotalFrames: 3, TotalBytes: 45},
			contains: []string{"0%", "0/3 frames"},
		},
		{
			name:     "zero totals render without dividing by zero",
			data:     ProgressData{},
			contains: []string{"0%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := pb.Render(tt.data)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestProgressBarOverflowClamps(t *testing.T) {
	pb := NewProgressBar(ProgressBarConfig{Width: 10, ShowFrames: true})
	out := pb.Render(ProgressData{FramesSent: 9, TotalFrames: 3})
	assert.Contains(t, out, "100%", "Ratio above 1 should clamp to 100%")
}
