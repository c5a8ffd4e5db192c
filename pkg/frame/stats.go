package frame

import (
	"fmt"
	"time"
)

// Stats tracks frame assembly counters.
type Stats struct {
	Start time.Time

	Parsed uint64
	Padded uint64
	Failed uint64

	// Failure breakdown
	Truncated     uint64
	MissingMarker uint64
	Malformed     uint64

	Overflows     uint64
	TimeoutClears uint64
	SizeClears    uint64
}

// Report returns a formatted summary as of now.
func (s Stats) Report(now time.Time) string {
	total := s.Parsed + s.Failed
	var okPercent float64
	if total > 0 {
		okPercent = float64(s.Parsed) * 100.0 / float64(total)
	}
	elapsed := now.Sub(s.Start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(s.Parsed) / elapsed
	}

	result := fmt.Sprintf("=== Frames (%.0f seconds) ===\n", elapsed)
	result += fmt.Sprintf("Parsed:          %8d (%.1f%%)\n", s.Parsed, okPercent)
	result += fmt.Sprintf("Failed:          %8d\n", s.Failed)
	if s.Failed > 0 {
		result += fmt.Sprintf("  Truncated:        %5d\n", s.Truncated)
		result += fmt.Sprintf("  Missing Marker:   %5d\n", s.MissingMarker)
		result += fmt.Sprintf("  Malformed:        %5d\n", s.Malformed)
	}
	if s.Padded > 0 {
		result += fmt.Sprintf("Padded:          %8d\n", s.Padded)
	}
	if s.Overflows+s.TimeoutClears+s.SizeClears > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
		result += fmt.Sprintf("Timeout Clears:  %8d\n", s.TimeoutClears)
		result += fmt.Sprintf("Size Clears:     %8d\n", s.SizeClears)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", rate)
	result += "============================\n"
	return result
}
