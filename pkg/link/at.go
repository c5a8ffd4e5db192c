package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/timeutil"
)

// ErrAckTimeout is returned when the sensor does not answer OK in time.
var ErrAckTimeout = errors.New("ack timeout")

const (
	// ackBufSize bounds the reply bytes kept while looking for OK.
	ackBufSize = 64
	// DefaultPollInterval is the ack scan period.
	DefaultPollInterval = time.Millisecond
)

// Link sends commands to the sensor and waits for their acknowledgement.
type Link interface {
	Send(cmd Command, timeout time.Duration) error
}

// Ring is the receive ring the sensor replies land in.
type Ring interface {
	View(fn func(buf []byte, writePos int))
}

// RetryPolicy controls resending on ack timeout. Zero attempts sends once.
type RetryPolicy struct {
	Attempts int
}

// ATLink writes AT commands and scans the shared receive ring for "OK".
type ATLink struct {
	w     io.Writer
	ring  Ring
	clock timeutil.Clock
	onAck func()

	Retry RetryPolicy
	Poll  time.Duration
}

// NewATLink creates a link writing to w and reading replies from ring.
// onAck, if set, is called after an acknowledgement so the frame reader can
// skip the reply bytes.
func NewATLink(w io.Writer, ring Ring, clock timeutil.Clock, onAck func()) *ATLink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ATLink{
		w:     w,
		ring:  ring,
		clock: clock,
		onAck: onAck,
		Poll:  DefaultPollInterval,
	}
}

// Send writes cmd and waits up to timeout for OK. On timeout it resends as
// many times as the retry policy allows and then returns ErrAckTimeout.
func (l *ATLink) Send(cmd Command, timeout time.Duration) error {
	var err error
	for attempt := 0; attempt <= l.Retry.Attempts; attempt++ {
		if attempt > 0 {
			diag.Logf("[AT] retry %d/%d: %s", attempt, l.Retry.Attempts, cmd)
		}
		err = l.exchange(cmd, timeout)
		if !errors.Is(err, ErrAckTimeout) {
			return err
		}
	}
	return err
}

func (l *ATLink) exchange(cmd Command, timeout time.Duration) error {
	var pos int
	l.ring.View(func(_ []byte, wr int) { pos = wr })

	if _, err := l.w.Write(cmd.Encode()); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	diag.Logf("[TX] %s", cmd)

	if l.waitOK(pos, timeout) {
		diag.Logf("[AT] OK received")
		if l.onAck != nil {
			l.onAck()
		}
		return nil
	}
	diag.Logf("[AT] OK timeout: %s", cmd)
	return fmt.Errorf("%s: %w", cmd, ErrAckTimeout)
}

// waitOK scans reply bytes written after pos for "OK". At most ackBufSize-1
// bytes are collected and each scan resumes one byte before the previous
// end so a split "O","K" is still found.
func (l *ATLink) waitOK(pos int, timeout time.Duration) bool {
	var buf [ackBufSize]byte
	n, from := 0, 0
	start := l.clock.Now()

	for l.clock.Since(start) < timeout {
		moved := false
		l.ring.View(func(ring []byte, wr int) {
			if wr == pos {
				return
			}
			moved = true
			for pos != wr {
				if n < len(buf)-1 {
					buf[n] = ring[pos]
					n++
				}
				pos++
				if pos == len(ring) {
					pos = 0
				}
			}
		})

		if moved {
			for i := from; i+1 < n; i++ {
				if buf[i] == 'O' && buf[i+1] == 'K' {
					return true
				}
			}
			from = max(n-1, 0)
		}
		l.clock.Sleep(l.Poll)
	}
	return false
}
