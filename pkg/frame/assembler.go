package frame

import (
	"errors"
	"time"

	"github.com/itohio/godispense/pkg/diag"
)

const (
	// DefaultClearAfter is how long parsing may fail before the working
	// buffer is discarded.
	DefaultClearAfter = 2000 * time.Millisecond
	// DefaultMaxBuffered is the working buffer size that forces a clear
	// after a failed parse.
	DefaultMaxBuffered = 1500
)

// Assembler combines ring draining, parsing and resynchronization.
type Assembler struct {
	ClearAfter  time.Duration
	MaxBuffered int

	in       Ingestor
	lastGood time.Time
	stats    Stats
}

// NewAssembler creates an assembler whose failure timer starts at now.
func NewAssembler(now time.Time) *Assembler {
	return &Assembler{
		ClearAfter:  DefaultClearAfter,
		MaxBuffered: DefaultMaxBuffered,
		lastGood:    now,
		stats:       Stats{Start: now},
	}
}

// Poll drains the ring and tries to decode the buffered frame into f.
// It reports whether f was updated.
func (a *Assembler) Poll(r Ring, now time.Time, f *SensorFrame) bool {
	if _, overflow := a.in.Drain(r); overflow {
		a.stats.Overflows++
		diag.Logf("[FRAME] working buffer overflow, discarded")
	}
	if a.in.Len() <= MinFrameLen {
		return false
	}

	err := Parse(a.in.Bytes(), f)
	if err == nil {
		a.stats.Parsed++
		if f.Padded {
			a.stats.Padded++
			diag.Logf("[FRAME] profile short by one value, padded with 0")
		}
		if a.in.TrimToLastStart() <= 0 {
			a.in.Clear()
		}
		a.lastGood = now
		return true
	}

	a.stats.record(err)
	a.in.TrimToLastStart()

	switch {
	case now.Sub(a.lastGood) > a.ClearAfter:
		a.in.Clear()
		a.lastGood = now
		a.stats.TimeoutClears++
	case a.in.Len() > a.MaxBuffered:
		a.in.Clear()
		a.lastGood = now
		a.stats.SizeClears++
	}
	return false
}

// Flush drops unread ring bytes without touching the working buffer.
func (a *Assembler) Flush(r Ring) { a.in.Flush(r) }

// Buffered returns the number of bytes in the working buffer.
func (a *Assembler) Buffered() int { return a.in.Len() }

// Stats returns a copy of the parse counters.
func (a *Assembler) Stats() Stats { return a.stats }

func (s *Stats) record(err error) {
	s.Failed++
	switch {
	case errors.Is(err, ErrTooShort), errors.Is(err, ErrShortProfile):
		s.Truncated++
	case errors.Is(err, ErrNoPrimary), errors.Is(err, ErrNoSecondary), errors.Is(err, ErrNoProfile):
		s.MissingMarker++
	default:
		s.Malformed++
	}
}
