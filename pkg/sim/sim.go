// Package sim simulates the echo sensor and the container being filled.
//
// The simulated sensor streams frames while capturing, answers AT commands
// with OK and applies the boundary and threshold settings it is sent. It
// reports the nearest echo whose strength exceeds the threshold of its zone:
// the near threshold up to the near boundary, the far threshold beyond it.
// A container arrives after a pause, fills while the pump runs and is taken
// away once it has been full for a while.
package sim

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/threshold"
)

// Config shapes the simulated echoes and the scenario timing.
type Config struct {
	// Interval is the frame period.
	Interval time.Duration `yaml:"interval"`

	EdgeBin         float32 `yaml:"edge_bin"`
	EdgeAmplitude   float32 `yaml:"edge_amplitude"`
	BottomBin       float32 `yaml:"bottom_bin"`
	BrimBin         float32 `yaml:"brim_bin"`
	LiquidAmplitude float32 `yaml:"liquid_amplitude"`
	// Width is the echo standard deviation in bins. Zero renders single-bin
	// echoes.
	Width float32 `yaml:"width"`
	// Noise is the peak amplitude of uniform profile noise.
	Noise float32 `yaml:"noise"`
	// FillRate is how fast the surface rises while pumping, in bins per
	// second.
	FillRate float32 `yaml:"fill_rate"`

	// NoTarget is the primary distance reported when nothing is detected.
	NoTarget int `yaml:"no_target"`

	// Arrive is the pause before an empty container is placed.
	Arrive time.Duration `yaml:"arrive"`
	// Linger is how long a filled container stays after the pump stops.
	Linger time.Duration `yaml:"linger"`

	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns a scenario that exercises a full filling cycle.
func DefaultConfig() Config {
	return Config{
		Interval:        100 * time.Millisecond,
		EdgeBin:         68,
		EdgeAmplitude:   1500,
		BottomBin:       148,
		BrimBin:         60,
		LiquidAmplitude: 1200,
		Width:           0,
		Noise:           0,
		FillRate:        10,
		NoTarget:        400,
		Arrive:          2 * time.Second,
		Linger:          3 * time.Second,
		Seed:            1,
	}
}

// Settings are the sensor's boundary and threshold registers.
type Settings struct {
	NearBoundary  int
	FarBoundary   int
	NearThreshold int
	FarThreshold  int
}

// DefaultSettings returns the power-on registers.
func DefaultSettings() Settings {
	return Settings{
		NearBoundary:  threshold.DefaultNearBoundary,
		FarBoundary:   threshold.DefaultFarBoundary,
		NearThreshold: threshold.DefaultNearThreshold,
		FarThreshold:  threshold.DefaultFarThreshold,
	}
}

// Stats counts the simulator's traffic.
type Stats struct {
	Frames   int
	Commands int
	Rejected int
	Fills    int
}

// Sim is a simulated sensor writing its output to a receive ring. It also
// implements actuator.Actuator so the scenario can follow the pump. It is
// safe for concurrent use.
type Sim struct {
	cfg Config
	out io.Writer
	act actuator.Actuator

	mu  sync.Mutex
	rng *rand.Rand
	now time.Time

	settings  Settings
	capturing bool
	verbose   bool

	present   bool
	level     float32
	pumping   bool
	since     time.Time // last scenario event
	lastFrame time.Time

	line    []byte
	buf     []byte
	current frame.SensorFrame
	stats   Stats
}

var _ actuator.Actuator = (*Sim)(nil)

// New creates a simulator that writes frames and replies to out. Actuator
// calls are forwarded to act when it is not nil.
func New(cfg Config, out io.Writer, act actuator.Actuator, now time.Time) *Sim {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.NoTarget <= 0 {
		cfg.NoTarget = d.NoTarget
	}
	if cfg.BottomBin <= 0 {
		cfg.BottomBin = d.BottomBin
	}
	if cfg.BrimBin <= 0 || cfg.BrimBin >= cfg.BottomBin {
		cfg.BrimBin = cfg.BottomBin / 2
	}
	return &Sim{
		cfg:       cfg,
		out:       out,
		act:       act,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
		now:       now,
		settings:  DefaultSettings(),
		capturing: true,
		verbose:   true,
		since:     now,
		lastFrame: now,
	}
}

// Write accepts command bytes. Every complete line is answered with OK or
// ERROR.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.line = append(s.line, p...)
	for {
		i := bytes.IndexByte(s.line, '\n')
		if i < 0 {
			break
		}
		line := string(s.line[:i])
		s.line = s.line[i+1:]

		cmd, ok := link.ParseCommand(line)
		if !ok {
			s.stats.Rejected++
			diag.Logf("[SIM] rejected %q", line)
			if _, err := s.out.Write([]byte("ERROR\r\n")); err != nil {
				return len(p), err
			}
			continue
		}
		s.apply(cmd)
		if _, err := s.out.Write([]byte("OK\r\n")); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (s *Sim) apply(cmd link.Command) {
	s.stats.Commands++
	switch cmd.Kind {
	case link.KindStop:
		s.capturing = false
	case link.KindVerbose:
		s.verbose = cmd.Value != 0
	case link.KindNearBoundary:
		s.settings.NearBoundary = cmd.Value
	case link.KindFarBoundary:
		s.settings.FarBoundary = cmd.Value
	case link.KindNearThreshold:
		s.settings.NearThreshold = cmd.Value
	case link.KindFarThreshold:
		s.settings.FarThreshold = cmd.Value
	case link.KindReboot:
		s.capturing = true
		s.lastFrame = s.now
	}
}

// SetPump starts or stops filling.
func (s *Sim) SetPump(on bool) error {
	s.mu.Lock()
	if s.pumping && !on {
		s.since = s.now
	}
	if on && !s.pumping {
		s.stats.Fills++
	}
	s.pumping = on
	s.mu.Unlock()

	if s.act != nil {
		return s.act.SetPump(on)
	}
	return nil
}

// SetIndicator forwards indicator changes.
func (s *Sim) SetIndicator(ind actuator.Indicator, on bool) error {
	if s.act != nil {
		return s.act.SetIndicator(ind, on)
	}
	return nil
}

// Step advances the scenario to now and emits a frame when one is due.
func (s *Sim) Step(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := now.Sub(s.now)
	if dt < 0 {
		return nil
	}
	s.now = now
	s.advance(dt)

	if !s.capturing || !s.verbose || now.Sub(s.lastFrame) < s.cfg.Interval {
		return nil
	}
	s.lastFrame = now
	s.measure(&s.current)
	s.buf = frame.Append(s.buf[:0], &s.current)
	s.stats.Frames++
	_, err := s.out.Write(s.buf)
	return err
}

func (s *Sim) advance(dt time.Duration) {
	switch {
	case !s.present:
		if s.now.Sub(s.since) >= s.cfg.Arrive {
			s.present = true
			s.level = s.cfg.BottomBin
			s.since = s.now
			diag.Logf("[SIM] container placed")
		}
	case s.pumping:
		s.level -= s.cfg.FillRate * float32(dt.Seconds())
		if s.level < s.cfg.BrimBin {
			s.level = s.cfg.BrimBin
		}
	case s.level < s.cfg.BottomBin && s.now.Sub(s.since) >= s.cfg.Linger:
		s.present = false
		s.since = s.now
		diag.Logf("[SIM] container removed")
	}
}

// measure renders the current profile and picks the reported echo.
func (s *Sim) measure(f *frame.SensorFrame) {
	var echoes [2]echo
	n := 0
	if s.present {
		echoes[0] = echo{bin: s.cfg.EdgeBin, amplitude: s.cfg.EdgeAmplitude}
		// The surface echo grows as it approaches the sensor.
		echoes[1] = echo{bin: s.level, amplitude: s.cfg.LiquidAmplitude * s.cfg.BottomBin / s.level}
		n = 2
	}

	var noise func() float32
	if s.cfg.Noise > 0 {
		noise = func() float32 { return (s.rng.Float32()*2 - 1) * s.cfg.Noise }
	}
	render(&f.Profile, echoes[:n], s.cfg.Width, noise)

	f.Primary, f.Secondary = s.cfg.NoTarget, 0
	nearest := float32(frame.ProfileLen)
	for _, e := range echoes[:n] {
		level := s.settings.FarThreshold
		if int(e.bin) <= s.settings.NearBoundary {
			level = s.settings.NearThreshold
		}
		st := strength(&f.Profile, e.bin)
		if st > level && e.bin < nearest {
			nearest = e.bin
			f.Primary, f.Secondary = toDistance(e.bin), st
		}
	}
	f.Valid = true
}

// Run steps the simulator every interval until ctx is cancelled.
func (s *Sim) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.Step(now); err != nil {
				return err
			}
		}
	}
}

// Settings returns the current sensor registers.
func (s *Sim) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Capturing reports whether the sensor is streaming frames.
func (s *Sim) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing && s.verbose
}

// Container reports whether a container is present and its surface bin.
func (s *Sim) Container() (present bool, level float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present, s.level
}

// Stats returns the traffic counters.
func (s *Sim) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
