// Package dispenser runs the controller's single cooperative loop: it polls
// the receive ring for frames, steps the state machine and executes the
// effects the machine asks for through the sensor link and the actuator.
package dispenser

import (
	"context"
	"errors"
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/timeutil"
)

// ErrDeviceReset is returned by Run when the watchdog asks for a full
// device restart.
var ErrDeviceReset = errors.New("device reset requested")

// Config contains the loop timing.
type Config struct {
	// PollInterval is the minimum time between frame polls.
	PollInterval time.Duration
	// LoopDelay is the pause at the end of every iteration.
	LoopDelay time.Duration

	// StartupStop and Startup are the ack timeouts of the startup sequence:
	// the first for the stop command, the second for verbose and reboot.
	StartupStop time.Duration
	Startup     time.Duration

	ClearAfter  time.Duration
	MaxBuffered int

	Control control.Config
}

// DefaultConfig returns the standard loop timing.
func DefaultConfig() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		LoopDelay:    5 * time.Millisecond,
		StartupStop:  200 * time.Millisecond,
		Startup:      500 * time.Millisecond,
		ClearAfter:   frame.DefaultClearAfter,
		MaxBuffered:  frame.DefaultMaxBuffered,
		Control:      control.DefaultConfig(),
	}
}

// LinkStats counts command exchanges.
type LinkStats struct {
	Sent     int
	Acked    int
	Timeouts int
	Errors   int
}

// Controller owns the frame assembler, the state machine and the effect
// executor. It is not safe for concurrent use; only the ring is shared with
// the producer.
type Controller struct {
	cfg   Config
	ring  frame.Ring
	link  link.Link
	act   actuator.Actuator
	clock timeutil.Clock

	asm     *frame.Assembler
	m       *control.Machine
	frame   frame.SensorFrame
	effects []control.Effect

	lastPoll time.Time
	outputs  actuator.State
	links    LinkStats

	onStatus func(*Status)
	status   Status
}

// New creates a controller. The clock defaults to the real clock.
func New(cfg Config, ring frame.Ring, lnk link.Link, act actuator.Actuator, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.LoopDelay <= 0 {
		cfg.LoopDelay = d.LoopDelay
	}
	if cfg.StartupStop <= 0 {
		cfg.StartupStop = d.StartupStop
	}
	if cfg.Startup <= 0 {
		cfg.Startup = d.Startup
	}

	now := clock.Now()
	asm := frame.NewAssembler(now)
	if cfg.ClearAfter > 0 {
		asm.ClearAfter = cfg.ClearAfter
	}
	if cfg.MaxBuffered > 0 {
		asm.MaxBuffered = cfg.MaxBuffered
	}

	return &Controller{
		cfg:      cfg,
		ring:     ring,
		link:     lnk,
		act:      act,
		clock:    clock,
		asm:      asm,
		m:        control.New(cfg.Control, now),
		effects:  make([]control.Effect, 0, 16),
		lastPoll: now,
	}
}

// OnStatus registers a callback receiving a snapshot after every
// iteration. The snapshot is reused; the callback must copy what it keeps.
func (c *Controller) OnStatus(fn func(*Status)) {
	c.onStatus = fn
}

// Start brings the sensor and the outputs into a known state and arms the
// watchdog.
func (c *Controller) Start() {
	diag.Logf("[START] initializing sensor")
	c.send(link.Stop(), c.cfg.StartupStop)
	c.asm.Flush(c.ring)
	c.send(link.Verbose(), c.cfg.Startup)
	c.send(link.Reboot(), c.cfg.Startup)
	c.asm.Flush(c.ring)

	c.setIndicator(actuator.IndicatorAlert, false)
	c.setIndicator(actuator.IndicatorArmed, false)
	c.setPump(false)

	now := c.clock.Now()
	c.m = control.New(c.cfg.Control, now)
	c.lastPoll = now
	diag.Logf("[START] entering %s", c.m.State())
}

// Run starts the controller and iterates until ctx is cancelled or the
// watchdog asks for a device reset. The pump is switched off on return.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.Iterate(); err != nil {
			return err
		}
		c.clock.Sleep(c.cfg.LoopDelay)
	}
}

// Iterate runs one loop iteration without the trailing delay.
func (c *Controller) Iterate() error {
	now := c.clock.Now()
	if now.Sub(c.lastPoll) >= c.cfg.PollInterval {
		c.lastPoll = now
		if c.asm.Poll(c.ring, now, &c.frame) {
			c.m.Feed(&c.frame, now)
		}
	}

	c.effects = c.m.Tick(now, c.effects[:0])
	err := c.execute(c.effects)
	c.publish(now)
	return err
}

func (c *Controller) execute(effects []control.Effect) error {
	for _, e := range effects {
		switch e.Kind {
		case control.EffectSend:
			c.send(e.Command, e.Timeout)
		case control.EffectFlush:
			c.asm.Flush(c.ring)
		case control.EffectPump:
			c.setPump(e.On)
		case control.EffectIndicator:
			c.setIndicator(e.Indicator, e.On)
		case control.EffectReset:
			diag.Logf("[RESET] device reset")
			return ErrDeviceReset
		}
	}
	return nil
}

// send runs one command exchange. Failures are logged and counted; the
// watchdog covers a link that stays dead.
func (c *Controller) send(cmd link.Command, timeout time.Duration) {
	c.links.Sent++
	err := c.link.Send(cmd, timeout)
	switch {
	case err == nil:
		c.links.Acked++
		c.asm.Flush(c.ring)
	case errors.Is(err, link.ErrAckTimeout):
		c.links.Timeouts++
		diag.Logf("[LINK] %v", err)
	default:
		c.links.Errors++
		diag.Logf("[LINK] %v", err)
	}
}

func (c *Controller) setPump(on bool) {
	if err := c.act.SetPump(on); err != nil {
		diag.Logf("[PUMP] failed to switch %t: %v", on, err)
		return
	}
	c.outputs.Pump = on
}

func (c *Controller) setIndicator(ind actuator.Indicator, on bool) {
	if err := c.act.SetIndicator(ind, on); err != nil {
		diag.Logf("[LED] failed to switch %s %t: %v", ind, on, err)
		return
	}
	switch ind {
	case actuator.IndicatorAlert:
		c.outputs.Alert = on
	case actuator.IndicatorArmed:
		c.outputs.Armed = on
	}
}

func (c *Controller) shutdown() {
	c.setPump(false)
	c.setIndicator(actuator.IndicatorArmed, false)
}

// Machine exposes the state machine.
func (c *Controller) Machine() *control.Machine { return c.m }

// Outputs returns the last successfully applied output state.
func (c *Controller) Outputs() actuator.State { return c.outputs }

// LinkStats returns the command exchange counters.
func (c *Controller) LinkStats() LinkStats { return c.links }

// FrameStats returns the frame parse counters.
func (c *Controller) FrameStats() frame.Stats { return c.asm.Stats() }
