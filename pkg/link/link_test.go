package link

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/timeutil"
)

func init() {
	diag.SetLogger(nil)
}

func TestCommand_Encode(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Stop(), "AT+STOP\r\n"},
		{Verbose(), "AT+DEBUG=1\r\n"},
		{Reboot(), "AT+REBOOT\r\n"},
		{NearBoundary(73), "AT+S3=73\r\n"},
		{FarBoundary(144), "AT+S4=144\r\n"},
		{NearThreshold(345), "AT+T2=345\r\n"},
		{FarThreshold(300), "AT+T3=300\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.cmd.Encode()))

			got, ok := ParseCommand(tt.want)
			require.True(t, ok)
			assert.Equal(t, tt.cmd, got)
		})
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	for _, s := range []string{"", "STOP", "AT+FOO", "AT+T2", "AT+T2=x", "AT+STOP=1"} {
		_, ok := ParseCommand(s)
		assert.False(t, ok, s)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "T3", KindFarThreshold.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

// replyWriter answers every write by putting reply into the ring.
type replyWriter struct {
	ring  *rxring.Ring
	reply string
	sent  bytes.Buffer
	count int
}

func (w *replyWriter) Write(p []byte) (int, error) {
	w.count++
	w.sent.Write(p)
	if w.reply != "" {
		_, _ = w.ring.Write([]byte(w.reply))
	}
	return len(p), nil
}

func TestATLink_Ack(t *testing.T) {
	ring := rxring.New(64)
	_, _ = ring.Write([]byte("a:1b:2s:"))
	w := &replyWriter{ring: ring, reply: "AT+STOP\r\nOK\r\n"}
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	acked := 0
	l := NewATLink(w, ring, clock, func() { acked++ })

	require.NoError(t, l.Send(Stop(), 200*time.Millisecond))
	assert.Equal(t, 1, acked)
	assert.Equal(t, "AT+STOP\r\n", w.sent.String())
	assert.Less(t, clock.Since(time.Unix(0, 0)), 200*time.Millisecond)
}

func TestATLink_Timeout(t *testing.T) {
	ring := rxring.New(64)
	w := &replyWriter{ring: ring, reply: "ERROR\r\n"}
	start := time.Unix(0, 0)
	clock := timeutil.NewMockClock(start)

	acked := false
	l := NewATLink(w, ring, clock, func() { acked = true })

	err := l.Send(NearThreshold(400), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.False(t, acked)
	assert.Equal(t, 1, w.count)
	assert.GreaterOrEqual(t, clock.Since(start), 100*time.Millisecond)
}

func TestATLink_Retry(t *testing.T) {
	ring := rxring.New(64)
	w := &replyWriter{ring: ring}
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	l := NewATLink(w, ring, clock, nil)
	l.Retry = RetryPolicy{Attempts: 2}

	err := l.Send(Reboot(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Equal(t, 3, w.count)
}

// trickleRing releases one chunk into the ring on every View call.
type trickleRing struct {
	*rxring.Ring
	chunks []string
}

func (r *trickleRing) View(fn func([]byte, int)) {
	if len(r.chunks) > 0 {
		_, _ = r.Ring.Write([]byte(r.chunks[0]))
		r.chunks = r.chunks[1:]
	}
	r.Ring.View(fn)
}

func TestATLink_SplitOK(t *testing.T) {
	// The first View records the start position, so the first chunk is
	// considered old.
	ring := &trickleRing{Ring: rxring.New(16), chunks: []string{"", "AT+REBOOT\r\nO", "K"}}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := NewATLink(&bytes.Buffer{}, ring, clock, nil)

	assert.NoError(t, l.Send(Reboot(), 50*time.Millisecond))
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("port closed") }

func TestATLink_WriteError(t *testing.T) {
	ring := rxring.New(16)
	l := NewATLink(failWriter{}, ring, timeutil.NewMockClock(time.Unix(0, 0)), nil)

	err := l.Send(Stop(), 10*time.Millisecond)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAckTimeout)
	assert.Contains(t, err.Error(), "port closed")
}
