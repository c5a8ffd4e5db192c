package control

import (
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/filter"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/threshold"
)

// Machine is the five-state controller. It is not safe for concurrent use.
type Machine struct {
	cfg Config
	ctx Context

	avg    filter.MovingAverage
	window int

	// frame is the last decoded frame; pending is set until a state
	// consumes it.
	frame   frame.SensorFrame
	pending bool

	lastPrimary   int
	lastSecondary int
	changed       bool

	cal    threshold.Calibrator
	result threshold.Result
}

type transition func(m *Machine, now time.Time, out []Effect) []Effect

var transitions = [...]transition{
	StateDetect:    (*Machine).detect,
	StateConfigure: (*Machine).configure,
	StateVerify:    (*Machine).verify,
	StateMeasure:   (*Machine).measure,
	StateWait:      (*Machine).wait,
}

// New creates a machine in Detect with the watchdog armed at now.
func New(cfg Config, now time.Time) *Machine {
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = DefaultConfig().Watchdog
	}
	if cfg.WatchdogMode == "" {
		cfg.WatchdogMode = WatchdogReset
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}

	m := &Machine{
		cfg:    cfg,
		window: filter.SlowWindow,
		result: threshold.NoContainer(),
	}
	m.ctx = Context{
		State:     StateDetect,
		LastParse: now,
		Params:    DefaultParams(),
	}
	m.avg.SetWindow(m.window)
	return m
}

// Feed hands a freshly decoded frame to the machine.
func (m *Machine) Feed(f *frame.SensorFrame, now time.Time) {
	m.frame = *f
	m.pending = true

	m.avg.Update(f.Primary, m.window)
	m.lastPrimary = f.Primary
	m.lastSecondary = f.Secondary
	m.changed = true
	m.ctx.LastParse = now
}

// Tick runs the watchdog and then one state step.
func (m *Machine) Tick(now time.Time, out []Effect) []Effect {
	out = m.Watchdog(now, out)
	return m.Step(now, out)
}

// Watchdog appends the configured recovery when no frame was fed for longer
// than the watchdog timeout, then re-arms it at now.
func (m *Machine) Watchdog(now time.Time, out []Effect) []Effect {
	silent := now.Sub(m.ctx.LastParse)
	if silent <= m.cfg.Watchdog {
		return out
	}
	diag.Logf("[WATCHDOG] no parsed frame for %d ms, perform %s", silent.Milliseconds(), m.cfg.WatchdogMode)
	m.ctx.LastParse = now

	if m.cfg.WatchdogMode == WatchdogRecover {
		return m.restoreDefaults(out)
	}
	return append(out, Effect{Kind: EffectReset})
}

// Step advances the current state once and appends its effects to out.
func (m *Machine) Step(now time.Time, out []Effect) []Effect {
	s := m.ctx.State
	if s < 0 || int(s) >= len(transitions) {
		m.ctx.State = StateDetect
		return out
	}
	return transitions[s](m, now, out)
}

func (m *Machine) detect(_ time.Time, out []Effect) []Effect {
	m.window = filter.SlowWindow
	if !m.pending {
		return out
	}
	m.pending = false

	if m.avg.Filtered() >= DetectLevel {
		m.ctx.Confirm = 0
		return out
	}

	m.ctx.Confirm++
	if m.ctx.Confirm < DetectConfirm {
		return out
	}

	diag.Logf("[DETECT->CONFIGURE] confirmed, filtered=%d", m.avg.Filtered())
	m.ctx.Confirm = 0
	m.ctx.State = StateConfigure
	return append(out,
		send(link.Stop(), m.cfg.Timeouts.Stop),
		flush(),
	)
}

func (m *Machine) configure(_ time.Time, out []Effect) []Effect {
	r := &m.result
	m.cal.Compute(m.frame.Profile[:], r)

	diag.Logf("[CONFIGURE] edge=%d liquid=%d x=%d t1=%d y=%d t2=%d peaks=%d extended=%t",
		r.EdgePosition, r.LiquidPosition, r.NearBoundary, r.NearThreshold,
		r.FarBoundary, r.FarThreshold, len(r.Peaks()), r.EdgeExtended)

	to := m.cfg.Timeouts
	if r.NoContainer() {
		diag.Logf("[CONFIGURE->WAIT] no container detected")
		m.resetReadings(filter.SlowWindow)
		m.ctx.Params.StopDistance = 0
		m.ctx.State = StateWait
		return append(out,
			indicator(actuator.IndicatorAlert, true),
			send(link.Reboot(), to.Configure),
			flush(),
		)
	}

	p := &m.ctx.Params
	p.NearBoundary = r.NearBoundary
	p.NearThreshold = r.NearThreshold
	p.FarBoundary = r.FarBoundary
	p.FarThreshold = r.FarThreshold
	p.EdgeDistance = toDistance(r.EdgePosition)
	p.AlarmCheckDistance = toDistance(p.NearBoundary)
	if r.EdgeExtended {
		p.StopDistance = p.EdgeDistance + stopMargin
	} else {
		p.StopDistance = toDistance(p.NearBoundary + 1)
	}
	p.RequireStrongEcho = !r.EdgeExtended
	diag.Logf("[CONFIGURE] edge_distance=%d alarm_check=%d stop_distance=%d strong_echo=%t",
		p.EdgeDistance, p.AlarmCheckDistance, p.StopDistance, p.RequireStrongEcho)

	m.resetReadings(filter.FastWindow)
	m.ctx.Verify = 0
	m.ctx.State = StateVerify
	diag.Logf("[CONFIGURE->VERIFY]")
	return append(out,
		send(link.NearBoundary(p.NearBoundary), to.Configure),
		send(link.FarBoundary(p.FarBoundary), to.Configure),
		send(link.NearThreshold(p.NearThreshold), to.Configure),
		send(link.FarThreshold(p.FarThreshold), to.Configure),
		send(link.Reboot(), to.Configure),
		flush(),
		indicator(actuator.IndicatorArmed, true),
	)
}

func (m *Machine) verify(now time.Time, out []Effect) []Effect {
	m.window = filter.FastWindow
	if !m.pending {
		return out
	}
	m.pending = false

	primary, secondary := m.frame.Primary, m.frame.Secondary
	p := &m.ctx.Params
	to := m.cfg.Timeouts

	if primary <= p.AlarmCheckDistance {
		// The near threshold let the edge echo through.
		if secondary > p.NearThreshold {
			p.NearThreshold = secondary + secondaryMargin
		} else {
			p.NearThreshold += thresholdBump
		}
		diag.Logf("[VERIFY] failed, a=%d <= %d, new t1=%d", primary, p.AlarmCheckDistance, p.NearThreshold)

		m.ctx.Verify = 0
		m.avg.Reset()
		return append(out,
			send(link.Stop(), to.Stop),
			flush(),
			send(link.NearThreshold(p.NearThreshold), to.Configure),
			flush(),
			send(link.Reboot(), to.VerifyReboot),
			flush(),
		)
	}

	m.ctx.Verify++
	diag.Logf("[VERIFY] ok (%d/%d), a=%d", m.ctx.Verify, VerifyConfirm, primary)
	if m.ctx.Verify < VerifyConfirm {
		return out
	}

	diag.Logf("[VERIFY->MEASURE] verification complete")
	m.ctx.Verify = 0
	m.ctx.Confirm = 0
	m.avg.Reset()
	m.window = filter.FastWindow
	m.ctx.MeasureEntry = now
	m.ctx.State = StateMeasure
	return append(out, pump(true))
}

func (m *Machine) measure(now time.Time, out []Effect) []Effect {
	if m.avg.Count() < m.window {
		return out
	}

	p := &m.ctx.Params
	strong := p.NearThreshold / 3
	stop := m.avg.Filtered() < p.StopDistance
	if p.RequireStrongEcho {
		stop = stop && m.lastSecondary > strong
	}
	armed := !m.ctx.MeasureEntry.IsZero() && now.Sub(m.ctx.MeasureEntry) >= MeasureGrace

	if !armed || !stop {
		m.ctx.Confirm = 0
		return out
	}
	if !m.changed {
		return out
	}
	m.changed = false
	m.ctx.Confirm++
	if m.ctx.Confirm < MeasureConfirm {
		return out
	}

	diag.Logf("[MEASURE->WAIT] full, a_f=%d < %d, b=%d > %d, strong=%t",
		m.avg.Filtered(), p.StopDistance, m.lastSecondary, strong, p.RequireStrongEcho)

	to := m.cfg.Timeouts
	p.FarThreshold = threshold.DefaultFarThreshold
	m.resetReadings(filter.SlowWindow)
	m.ctx.State = StateWait
	return append(out,
		pump(false),
		indicator(actuator.IndicatorArmed, false),
		indicator(actuator.IndicatorAlert, true),
		send(link.Stop(), to.StopFast),
		flush(),
		send(link.FarThreshold(threshold.DefaultFarThreshold), to.Restore),
		send(link.Reboot(), to.Configure),
		flush(),
	)
}

func (m *Machine) wait(_ time.Time, out []Effect) []Effect {
	if !m.pending {
		return out
	}
	m.pending = false

	if m.avg.Filtered() <= ReleaseLevel {
		m.ctx.Confirm = 0
		return out
	}
	m.ctx.Confirm++
	if m.ctx.Confirm < WaitConfirm {
		return out
	}

	diag.Logf("[WAIT->DETECT] container removed")
	return m.restoreDefaults(out)
}

// restoreDefaults restores the sensor defaults and returns to Detect. The
// pump is always switched off, since the recover watchdog can land here
// from Measure.
func (m *Machine) restoreDefaults(out []Effect) []Effect {
	to := m.cfg.Timeouts
	d := DefaultParams()

	m.resetReadings(filter.SlowWindow)
	m.ctx.Verify = 0
	m.ctx.MeasureEntry = time.Time{}
	m.ctx.Params = d
	m.ctx.State = StateDetect

	return append(out,
		send(link.Stop(), to.StopFast),
		flush(),
		send(link.Verbose(), to.Restore),
		send(link.NearBoundary(d.NearBoundary), to.Restore),
		send(link.NearThreshold(d.NearThreshold), to.Restore),
		send(link.FarBoundary(d.FarBoundary), to.Restore),
		send(link.FarThreshold(d.FarThreshold), to.Restore),
		indicator(actuator.IndicatorAlert, false),
		indicator(actuator.IndicatorArmed, false),
		pump(false),
		send(link.Reboot(), to.Configure),
		flush(),
	)
}

// resetReadings clears the filter, the confirmation counter and any
// unconsumed frame, and selects the filter window.
func (m *Machine) resetReadings(window int) {
	m.avg.Reset()
	m.window = window
	m.ctx.Confirm = 0
	m.pending = false
}

// Context returns a copy of the machine's bookkeeping.
func (m *Machine) Context() Context { return m.ctx }

// State returns the current state.
func (m *Machine) State() State { return m.ctx.State }

// Filtered returns the filtered primary distance.
func (m *Machine) Filtered() int { return m.avg.Filtered() }

// Samples returns the number of filter samples since the last reset.
func (m *Machine) Samples() int { return m.avg.Count() }

// Window returns the filter window in use.
func (m *Machine) Window() int { return m.window }

// Last returns the most recent raw primary and secondary readings.
func (m *Machine) Last() (primary, secondary int) { return m.lastPrimary, m.lastSecondary }

// Result returns the last calibration result.
func (m *Machine) Result() *threshold.Result { return &m.result }

// Calibrator exposes the calibrator stages of the last calibration.
func (m *Machine) Calibrator() *threshold.Calibrator { return &m.cal }
