//go:build !tinygo

package actuator

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// Drive selects how the pump pin is driven.
type Drive string

const (
	DriveLevel Drive = "gpio"
	DrivePWM   Drive = "pwm"
)

// GPIOConfig names the host pins, in the format gpioreg.ByName expects.
type GPIOConfig struct {
	Pump  string
	Alert string
	Armed string

	Drive     Drive
	Frequency physic.Frequency
	Duty      gpio.Duty
}

// GPIO drives the outputs through periph.io host pins.
type GPIO struct {
	pump  gpio.PinIO
	alert gpio.PinIO
	armed gpio.PinIO

	drive Drive
	freq  physic.Frequency
	duty  gpio.Duty
}

// NewGPIO initializes the host drivers, resolves the pins and drives them
// all low.
func NewGPIO(cfg GPIOConfig) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	g := &GPIO{
		drive: cfg.Drive,
		freq:  cfg.Frequency,
		duty:  cfg.Duty,
	}
	if g.drive == "" {
		g.drive = DriveLevel
	}
	if g.freq == 0 {
		g.freq = physic.KiloHertz
	}
	if g.duty == 0 {
		g.duty = gpio.DutyMax
	}

	pins := []struct {
		name string
		dst  *gpio.PinIO
	}{
		{cfg.Pump, &g.pump},
		{cfg.Alert, &g.alert},
		{cfg.Armed, &g.armed},
	}
	for _, p := range pins {
		pin := gpioreg.ByName(p.name)
		if pin == nil {
			return nil, fmt.Errorf("no GPIO pin named: %s", p.name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("failed to drive %s low: %w", p.name, err)
		}
		*p.dst = pin
	}
	return g, nil
}

// SetPump starts or stops the pump.
func (g *GPIO) SetPump(on bool) error {
	if g.drive == DrivePWM {
		if !on {
			return g.pump.Out(gpio.Low)
		}
		return g.pump.PWM(g.duty, g.freq)
	}
	return g.pump.Out(gpio.Level(on))
}

// SetIndicator switches an indicator output.
func (g *GPIO) SetIndicator(ind Indicator, on bool) error {
	switch ind {
	case IndicatorAlert:
		return g.alert.Out(gpio.Level(on))
	case IndicatorArmed:
		return g.armed.Out(gpio.Level(on))
	default:
		return fmt.Errorf("unknown indicator %d", int(ind))
	}
}
