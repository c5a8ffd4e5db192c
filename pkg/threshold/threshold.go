// Package threshold derives echo sensor thresholds from a raw echo-amplitude
// profile.
//
// The profile is cut to a fixed window, smoothed, and scanned for peaks. The
// first peak is the container edge and a later strong peak the liquid
// surface; anything else is interference. The near boundary and threshold
// mask the edge echo, the far ones mask interference before the liquid.
//
// Samples and outputs are truncated to 16 bits and all division truncates.
package threshold

const (
	// WindowStart and WindowEnd bound the usable part of the raw profile.
	WindowStart = 40
	WindowEnd   = 170
	WindowLen   = WindowEnd - WindowStart + 1

	// MinProfileLen is the shortest raw profile that covers the window.
	MinProfileLen = WindowEnd + 1

	SmoothWindow   = 5
	BaseThreshold  = 250
	MinProminence  = 60
	MaxPeaks       = 32
	MergeDistance  = 3
	DetectLevel    = BaseThreshold * 9 / 10
	BoundaryLevel  = DetectLevel * 4 / 10
	QuietLevel     = 250
	QuietRun       = 3
	LiquidFraction = 4  // tenths of the window past the edge
	SinglePeakPct  = 55 // percent of the window

	DefaultNearThreshold = 400
	DefaultNearBoundary  = 60
	DefaultFarThreshold  = 250
	DefaultFarBoundary   = 152
)

// Result is the outcome of one calibration.
type Result struct {
	EdgePosition   int
	LiquidPosition int
	NearThreshold  int
	NearBoundary   int
	FarThreshold   int
	FarBoundary    int
	EdgeExtended   bool

	peaks peakSet
}

// Peaks returns the classified peaks in raw coordinates, ascending by
// position. The slice aliases r.
func (r *Result) Peaks() []Peak { return r.peaks.slice() }

// NoContainer reports whether the result is the no-container sentinel.
func (r *Result) NoContainer() bool {
	return r.EdgePosition < 0 || r.LiquidPosition < 0
}

func (r *Result) setNoContainer() {
	*r = Result{
		EdgePosition:   -1,
		LiquidPosition: -1,
		NearThreshold:  DefaultNearThreshold,
		NearBoundary:   DefaultNearBoundary,
		FarThreshold:   DefaultFarThreshold,
		FarBoundary:    DefaultFarBoundary,
	}
}

// NoContainer returns the sentinel result.
func NoContainer() Result {
	var r Result
	r.setNoContainer()
	return r
}

// Compute runs a calibration with a throwaway Calibrator.
func Compute(raw []int) Result {
	var (
		c Calibrator
		r Result
	)
	c.Compute(raw, &r)
	return r
}

// ClassifySingle applies the single-peak rule to a raw position: past 55% of
// the window it is the liquid, otherwise the edge. Compute never reaches this
// rule because fewer than two peaks already yield the no-container result.
func ClassifySingle(position int) Role {
	if (position-WindowStart)*100 > WindowLen*SinglePeakPct {
		return RoleLiquid
	}
	return RoleEdge
}

func trunc16(v int) int { return int(int16(v)) }
