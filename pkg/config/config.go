package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/dispenser"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/port"
	"github.com/itohio/godispense/pkg/sim"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Link       LinkConfig       `yaml:"link"`
	Controller ControllerConfig `yaml:"controller"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Simulation sim.Config       `yaml:"simulation"`
	Log        LogConfig        `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port             string `yaml:"port"`
	port.PortOptions `yaml:",inline"`
}

// WebSocketConfig points at a remote serial bridge. The password is never
// stored; it is prompted for when Username is set.
type WebSocketConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Insecure bool   `yaml:"insecure"`
}

// LinkConfig contains the command acknowledgement timeouts.
type LinkConfig struct {
	Retry        int           `yaml:"retry"` // Resends after an ack timeout (0 = send once)
	Stop         time.Duration `yaml:"stop"`
	StopFast     time.Duration `yaml:"stop_fast"`
	Configure    time.Duration `yaml:"configure"`
	Restore      time.Duration `yaml:"restore"`
	VerifyReboot time.Duration `yaml:"verify_reboot"`
	Startup      time.Duration `yaml:"startup"`
	AckPoll      time.Duration `yaml:"ack_poll"`
}

// ControllerConfig contains the control loop timing.
type ControllerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LoopDelay    time.Duration `yaml:"loop_delay"`
	Watchdog     time.Duration `yaml:"watchdog"`
	WatchdogMode string        `yaml:"watchdog_mode"` // reset or recover
	ClearAfter   time.Duration `yaml:"clear_after"`   // Failed-parse time before the frame buffer is dropped
	MaxBuffered  int           `yaml:"max_buffered"`  // Frame buffer size that forces a drop after a failed parse
}

// ActuatorConfig selects the output backend and its pins.
type ActuatorConfig struct {
	Backend   string `yaml:"backend"` // gpio or recorder
	Pump      string `yaml:"pump"`
	Alert     string `yaml:"alert"`
	Armed     string `yaml:"armed"`
	Drive     string `yaml:"drive"`     // gpio or pwm
	Frequency int    `yaml:"frequency"` // PWM frequency in Hz
	Duty      int    `yaml:"duty"`      // PWM duty in percent
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackendGPIO     = "gpio"
	BackendRecorder = "recorder"
)

// Default returns a default configuration with sensible values.
func Default() *Config {
	t := control.DefaultTimeouts()
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyUSB0",
			PortOptions: port.PortOptions{
				BaudRate: port.DefaultBaudRate,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
			},
		},
		Link: LinkConfig{
			Stop:         t.Stop,
			StopFast:     t.StopFast,
			Configure:    t.Configure,
			Restore:      t.Restore,
			VerifyReboot: t.VerifyReboot,
			Startup:      500 * time.Millisecond,
			AckPoll:      time.Millisecond,
		},
		Controller: ControllerConfig{
			PollInterval: 50 * time.Millisecond,
			LoopDelay:    5 * time.Millisecond,
			Watchdog:     10 * time.Second,
			WatchdogMode: string(control.WatchdogReset),
			ClearAfter:   frame.DefaultClearAfter,
			MaxBuffered:  frame.DefaultMaxBuffered,
		},
		Actuator: ActuatorConfig{
			Backend:   BackendRecorder,
			Pump:      "GPIO17",
			Alert:     "GPIO27",
			Armed:     "GPIO22",
			Drive:     "gpio",
			Frequency: 1000,
			Duty:      100,
		},
		Simulation: sim.DefaultConfig(),
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the enumerated settings and the simulator geometry.
func (c *Config) Validate() error {
	switch control.WatchdogMode(c.Controller.WatchdogMode) {
	case control.WatchdogReset, control.WatchdogRecover:
	default:
		return fmt.Errorf("invalid watchdog mode: %q", c.Controller.WatchdogMode)
	}
	switch c.Actuator.Backend {
	case BackendGPIO, BackendRecorder:
	default:
		return fmt.Errorf("invalid actuator backend: %q", c.Actuator.Backend)
	}
	switch c.Actuator.Drive {
	case "gpio", "pwm":
	default:
		return fmt.Errorf("invalid pump drive: %q", c.Actuator.Drive)
	}
	if c.Actuator.Duty < 0 || c.Actuator.Duty > 100 {
		return fmt.Errorf("invalid pwm duty: %d", c.Actuator.Duty)
	}
	if c.Simulation.BottomBin <= 0 {
		return fmt.Errorf("invalid simulation bottom bin: %v", c.Simulation.BottomBin)
	}
	if c.Simulation.FillRate < 0 {
		return fmt.Errorf("invalid simulation fill rate: %v", c.Simulation.FillRate)
	}
	return nil
}

// Timeouts returns the ack timeouts for the state machine.
func (c *Config) Timeouts() control.Timeouts {
	return control.Timeouts{
		Stop:         c.Link.Stop,
		StopFast:     c.Link.StopFast,
		Configure:    c.Link.Configure,
		Restore:      c.Link.Restore,
		VerifyReboot: c.Link.VerifyReboot,
	}
}

// Control returns the state machine configuration.
func (c *Config) Control() control.Config {
	return control.Config{
		Watchdog:     c.Controller.Watchdog,
		WatchdogMode: control.WatchdogMode(c.Controller.WatchdogMode),
		Timeouts:     c.Timeouts(),
	}
}

// Dispenser returns the control loop configuration.
func (c *Config) Dispenser() dispenser.Config {
	return dispenser.Config{
		PollInterval: c.Controller.PollInterval,
		LoopDelay:    c.Controller.LoopDelay,
		StartupStop:  c.Link.Stop,
		Startup:      c.Link.Startup,
		ClearAfter:   c.Controller.ClearAfter,
		MaxBuffered:  c.Controller.MaxBuffered,
		Control:      c.Control(),
	}
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	setDuration(&c.Link.Stop, def.Link.Stop)
	setDuration(&c.Link.StopFast, def.Link.StopFast)
	setDuration(&c.Link.Configure, def.Link.Configure)
	setDuration(&c.Link.Restore, def.Link.Restore)
	setDuration(&c.Link.VerifyReboot, def.Link.VerifyReboot)
	setDuration(&c.Link.Startup, def.Link.Startup)
	setDuration(&c.Link.AckPoll, def.Link.AckPoll)

	setDuration(&c.Controller.PollInterval, def.Controller.PollInterval)
	setDuration(&c.Controller.LoopDelay, def.Controller.LoopDelay)
	setDuration(&c.Controller.Watchdog, def.Controller.Watchdog)
	setDuration(&c.Controller.ClearAfter, def.Controller.ClearAfter)
	if c.Controller.WatchdogMode == "" {
		c.Controller.WatchdogMode = def.Controller.WatchdogMode
	}
	if c.Controller.MaxBuffered == 0 {
		c.Controller.MaxBuffered = def.Controller.MaxBuffered
	}

	if c.Actuator.Backend == "" {
		c.Actuator.Backend = def.Actuator.Backend
	}
	if c.Actuator.Drive == "" {
		c.Actuator.Drive = def.Actuator.Drive
	}
	if c.Actuator.Frequency == 0 {
		c.Actuator.Frequency = def.Actuator.Frequency
	}
	if c.Actuator.Duty == 0 {
		c.Actuator.Duty = def.Actuator.Duty
	}

	if c.Simulation.Interval == 0 {
		c.Simulation.Interval = def.Simulation.Interval
	}
	if c.Simulation.BottomBin == 0 {
		c.Simulation.BottomBin = def.Simulation.BottomBin
	}
	if c.Simulation.FillRate == 0 {
		c.Simulation.FillRate = def.Simulation.FillRate
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}
