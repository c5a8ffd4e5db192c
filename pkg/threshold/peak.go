package threshold

import (
	"cmp"
	"slices"
)

// Role is the classification of an echo peak.
type Role int

const (
	RoleUnknown Role = iota
	RoleEdge
	RoleLiquid
	RoleInterference
)

func (r Role) String() string {
	switch r {
	case RoleEdge:
		return "edge"
	case RoleLiquid:
		return "liquid"
	case RoleInterference:
		return "interference"
	default:
		return "unknown"
	}
}

// Peak is a local maximum of the smoothed echo profile.
type Peak struct {
	Position   int
	Amplitude  int
	Left       int
	Right      int
	Prominence int
	Role       Role
}

// peakSet is a fixed-capacity list of peaks.
type peakSet struct {
	items [MaxPeaks]Peak
	n     int
}

func (s *peakSet) reset() { s.n = 0 }

func (s *peakSet) full() bool { return s.n >= MaxPeaks }

func (s *peakSet) push(p Peak) bool {
	if s.full() {
		return false
	}
	s.items[s.n] = p
	s.n++
	return true
}

func (s *peakSet) slice() []Peak { return s.items[:s.n] }

func sortByPosition(peaks []Peak) {
	slices.SortStableFunc(peaks, func(a, b Peak) int {
		return cmp.Compare(a.Position, b.Position)
	})
}

// shift moves a peak from window to raw coordinates.
func (p Peak) shift(offset int) Peak {
	p.Position += offset
	p.Left += offset
	p.Right += offset
	return p
}
