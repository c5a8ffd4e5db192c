package dispenser

import (
	"fmt"
	"strings"
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/threshold"
)

// Status is a snapshot of the controller after one iteration.
type Status struct {
	Time  time.Time
	State control.State

	Confirm int
	Verify  int

	Filtered  int
	Primary   int
	Secondary int
	Samples   int
	Window    int

	Params  control.Params
	Outputs actuator.State

	Frames frame.Stats
	Link   LinkStats

	// Profile is the last decoded echo profile.
	Profile [frame.ProfileLen]int
	// Calibration is the result of the last Configure step.
	Calibration threshold.Result
}

func (c *Controller) publish(now time.Time) {
	if c.onStatus == nil {
		return
	}

	s := &c.status
	ctx := c.m.Context()
	s.Time = now
	s.State = ctx.State
	s.Confirm = ctx.Confirm
	s.Verify = ctx.Verify
	s.Filtered = c.m.Filtered()
	s.Primary, s.Secondary = c.m.Last()
	s.Samples = c.m.Samples()
	s.Window = c.m.Window()
	s.Params = ctx.Params
	s.Outputs = c.outputs
	s.Frames = c.asm.Stats()
	s.Link = c.links
	s.Profile = c.frame.Profile
	s.Calibration = *c.m.Result()

	c.onStatus(s)
}

// Report returns a multi-line summary of the snapshot.
func (s *Status) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s (confirm %d, verify %d)\n", s.State, s.Confirm, s.Verify)
	fmt.Fprintf(&b, "Distance: filtered %d, last %d/%d, %d/%d samples\n",
		s.Filtered, s.Primary, s.Secondary, s.Samples, s.Window)
	fmt.Fprintf(&b, "Sensor: S3=%d S4=%d T2=%d T3=%d\n",
		s.Params.NearBoundary, s.Params.FarBoundary, s.Params.NearThreshold, s.Params.FarThreshold)
	fmt.Fprintf(&b, "Stop: distance %d, alarm check %d, strong echo %t\n",
		s.Params.StopDistance, s.Params.AlarmCheckDistance, s.Params.RequireStrongEcho)
	fmt.Fprintf(&b, "Outputs: pump %s, alert %s, armed %s\n",
		onOff(s.Outputs.Pump), onOff(s.Outputs.Alert), onOff(s.Outputs.Armed))
	fmt.Fprintf(&b, "Link: %d sent, %d acked, %d timeouts, %d errors\n",
		s.Link.Sent, s.Link.Acked, s.Link.Timeouts, s.Link.Errors)
	b.WriteString(s.Frames.Report(s.Time))
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
