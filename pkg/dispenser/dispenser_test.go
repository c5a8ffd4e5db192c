package dispenser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/sim"
	"github.com/itohio/godispense/pkg/timeutil"
)

func init() {
	diag.SetLogger(nil)
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type sent struct {
	cmd     string
	timeout time.Duration
}

type fakeLink struct {
	sent []sent
	err  error
}

func (l *fakeLink) Send(cmd link.Command, timeout time.Duration) error {
	l.sent = append(l.sent, sent{cmd.String(), timeout})
	if l.err != nil {
		return fmt.Errorf("%s: %w", cmd, l.err)
	}
	return nil
}

type failingActuator struct{}

func (failingActuator) SetPump(bool) error { return errors.New("pin busy") }
func (failingActuator) SetIndicator(actuator.Indicator, bool) error {
	return errors.New("pin busy")
}

func calls(rec *actuator.Recorder) []string {
	var out []string
	for _, c := range rec.Calls() {
		out = append(out, c.String())
	}
	return out
}

func TestStart_Sequence(t *testing.T) {
	lnk := &fakeLink{}
	rec := actuator.NewRecorder()
	c := New(DefaultConfig(), rxring.New(0), lnk, rec, timeutil.NewMockClock(t0))

	c.Start()

	assert.Equal(t, []sent{
		{"AT+STOP", 200 * time.Millisecond},
		{"AT+DEBUG=1", 500 * time.Millisecond},
		{"AT+REBOOT", 500 * time.Millisecond},
	}, lnk.sent)
	assert.Equal(t, []string{"alert off", "armed off", "pump off"}, calls(rec))
	assert.Equal(t, LinkStats{Sent: 3, Acked: 3}, c.LinkStats())
	assert.Equal(t, control.StateDetect, c.Machine().State())
}

func TestStart_AckTimeoutsAreCounted(t *testing.T) {
	lnk := &fakeLink{err: link.ErrAckTimeout}
	c := New(DefaultConfig(), rxring.New(0), lnk, actuator.NewRecorder(), timeutil.NewMockClock(t0))

	c.Start()
	assert.Equal(t, LinkStats{Sent: 3, Timeouts: 3}, c.LinkStats())
}

func TestIterate_PollGate(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	ring := rxring.New(0)
	c := New(DefaultConfig(), ring, &fakeLink{}, actuator.NewRecorder(), clock)

	f := frame.SensorFrame{Primary: 321, Secondary: 12}
	_, _ = ring.Write(frame.Append(nil, &f))

	require.NoError(t, c.Iterate())
	assert.Equal(t, 0, c.Machine().Samples(), "poll interval not elapsed")

	clock.Advance(49 * time.Millisecond)
	require.NoError(t, c.Iterate())
	assert.Equal(t, 0, c.Machine().Samples())

	clock.Advance(time.Millisecond)
	require.NoError(t, c.Iterate())
	assert.Equal(t, 1, c.Machine().Samples())
	primary, secondary := c.Machine().Last()
	assert.Equal(t, 321, primary)
	assert.Equal(t, 12, secondary)
	assert.Equal(t, uint64(1), c.FrameStats().Parsed)
}

func TestIterate_ActuatorFailureKeepsOutputs(t *testing.T) {
	c := New(DefaultConfig(), rxring.New(0), &fakeLink{}, failingActuator{}, timeutil.NewMockClock(t0))
	c.setPump(true)
	c.setIndicator(actuator.IndicatorAlert, true)
	assert.Equal(t, actuator.State{}, c.Outputs())
}

func TestRun_WatchdogReset(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	rec := actuator.NewRecorder()
	c := New(DefaultConfig(), rxring.New(0), &fakeLink{}, rec, clock)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceReset)

	elapsed := clock.Now().Sub(t0)
	assert.Greater(t, elapsed, 10*time.Second)
	assert.Less(t, elapsed, 10*time.Second+50*time.Millisecond)
	assert.False(t, rec.State().Pump)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := actuator.NewRecorder()
	c := New(DefaultConfig(), rxring.New(0), &fakeLink{}, rec, timeutil.NewMockClock(t0))
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []string{"alert off", "armed off", "pump off", "pump off", "armed off"}, calls(rec))
}

func TestStatus_Published(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	c := New(DefaultConfig(), rxring.New(0), &fakeLink{}, actuator.NewRecorder(), clock)

	var got []control.State
	var report string
	c.OnStatus(func(s *Status) {
		got = append(got, s.State)
		report = s.Report()
	})
	c.Start()
	require.NoError(t, c.Iterate())
	require.NoError(t, c.Iterate())

	assert.Equal(t, []control.State{control.StateDetect, control.StateDetect}, got)
	assert.Contains(t, report, "State: DETECT")
	assert.Contains(t, report, "Sensor: S3=60 S4=152 T2=400 T3=250")
	assert.Contains(t, report, "Link: 3 sent, 3 acked")
}

// simClock steps the simulator whenever the loop sleeps.
type simClock struct {
	*timeutil.MockClock
	sim *sim.Sim
}

func (c simClock) Sleep(d time.Duration) {
	c.MockClock.Sleep(d)
	_ = c.sim.Step(c.Now())
}

func TestRun_FillCycleWithSimulator(t *testing.T) {
	mock := timeutil.NewMockClock(t0)
	ring := rxring.New(0)
	rec := actuator.NewRecorder()
	s := sim.New(sim.DefaultConfig(), ring, rec, t0)
	clock := simClock{MockClock: mock, sim: s}
	lnk := link.NewATLink(s, ring, clock, nil)

	c := New(DefaultConfig(), ring, lnk, s, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var states []control.State
	var params control.Params
	c.OnStatus(func(st *Status) {
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
			if st.State == control.StateVerify {
				params = st.Params
			}
		}
		if len(states) == 6 || st.Time.Sub(t0) > time.Minute {
			cancel()
		}
	})

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, []control.State{
		control.StateDetect,
		control.StateConfigure,
		control.StateVerify,
		control.StateMeasure,
		control.StateWait,
		control.StateDetect,
	}, states)

	assert.Equal(t, 73, params.NearBoundary)
	assert.Equal(t, 144, params.FarBoundary)
	assert.Equal(t, 345, params.NearThreshold)
	assert.Equal(t, 300, params.FarThreshold)

	assert.Equal(t, 1, s.Stats().Fills)
	assert.Equal(t, sim.DefaultSettings(), s.Settings())
	assert.Zero(t, c.LinkStats().Timeouts)
	assert.Zero(t, c.FrameStats().Failed)

	var pump []bool
	for _, call := range rec.Calls() {
		if call.Pump {
			pump = append(pump, call.On)
		}
	}
	// Startup, fill, full, release, shutdown.
	assert.Equal(t, []bool{false, true, false, false, false}, pump)
}
