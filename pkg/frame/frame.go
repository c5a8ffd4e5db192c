// Package frame turns the sensor's text stream into validated readings.
//
// A frame is a single line of the form
//
//	a:<digits>b:<digits>s:<d>,<d>,...<CR|LF>
//
// where a is the primary distance, b the secondary echo strength and s the
// 224-sample echo-amplitude profile.
package frame

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// ProfileLen is the number of samples in an echo profile.
	ProfileLen = 224
	// MinFrameLen is the shortest buffer that can hold a frame.
	MinFrameLen = 50
)

var (
	ErrNotFrame = errors.New("not a frame")

	ErrTooShort       = fmt.Errorf("%w: too short", ErrNotFrame)
	ErrNoPrimary      = fmt.Errorf("%w: missing a: marker", ErrNotFrame)
	ErrNoSecondary    = fmt.Errorf("%w: missing b: marker", ErrNotFrame)
	ErrNoProfile      = fmt.Errorf("%w: missing s: marker", ErrNotFrame)
	ErrBadPrimary     = fmt.Errorf("%w: primary is not a number", ErrNotFrame)
	ErrBadSecondary   = fmt.Errorf("%w: secondary is not a number", ErrNotFrame)
	ErrBadProfileChar = fmt.Errorf("%w: invalid profile character", ErrNotFrame)
	ErrEmptyElement   = fmt.Errorf("%w: empty profile element", ErrNotFrame)
	ErrShortProfile   = fmt.Errorf("%w: profile too short", ErrNotFrame)
)

var (
	markerPrimary   = []byte("a:")
	markerSecondary = []byte("b:")
	markerProfile   = []byte("s:")
)

// SensorFrame is the most recently decoded sensor reading.
type SensorFrame struct {
	Primary   int
	Secondary int
	Profile   [ProfileLen]int
	Valid     bool

	// Padded is set when the sensor sent one profile value short and the
	// last sample was synthesized as zero.
	Padded bool
}

// Parse decodes one frame starting at data[0] into f. On failure f is left
// untouched and the returned error wraps ErrNotFrame.
func Parse(data []byte, f *SensorFrame) error {
	if len(data) < MinFrameLen {
		return ErrTooShort
	}
	if !bytes.HasPrefix(data, markerPrimary) {
		return ErrNoPrimary
	}

	rest := data[len(markerPrimary):]
	bi := bytes.Index(rest, markerSecondary)
	if bi < 0 {
		return ErrNoSecondary
	}
	primary, ok := atoi(rest[:bi])
	rest = rest[bi+len(markerSecondary):]

	si := bytes.Index(rest, markerProfile)
	if si < 0 {
		return ErrNoProfile
	}
	if !ok {
		return ErrBadPrimary
	}
	secondary, ok := atoi(rest[:si])
	if !ok {
		return ErrBadSecondary
	}
	rest = rest[si+len(markerProfile):]

	var profile [ProfileLen]int
	n, err := decodeProfile(rest, &profile)
	if err != nil {
		return err
	}

	padded := false
	switch {
	case n == ProfileLen-1:
		// The sensor occasionally stops one value short.
		profile[n] = 0
		padded = true
	case n < ProfileLen:
		return ErrShortProfile
	}

	f.Primary = primary
	f.Secondary = secondary
	f.Profile = profile
	f.Padded = padded
	f.Valid = true
	return nil
}

// decodeProfile reads comma separated values until a line terminator, the
// end of data or ProfileLen committed values. A value is committed by a comma
// or a terminator only.
func decodeProfile(data []byte, out *[ProfileLen]int) (int, error) {
	n := 0
	num := 0
	reading := false

	for i := 0; i < len(data) && n < ProfileLen; i++ {
		c := data[i]
		switch {
		case c >= '0' && c <= '9':
			reading = true
			num = num*10 + int(c-'0')
		case c == ',':
			if !reading {
				return n, ErrEmptyElement
			}
			out[n] = num
			n++
			num = 0
			reading = false
		case c == '\r' || c == '\n':
			if reading {
				out[n] = num
				n++
			}
			return n, nil
		default:
			return n, ErrBadProfileChar
		}
	}
	return n, nil
}

func atoi(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	return v, true
}

// LastStart returns the index of the last frame start marker in data, or -1.
func LastStart(data []byte) int {
	return bytes.LastIndex(data, markerPrimary)
}
