package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/config"
	"github.com/itohio/godispense/pkg/port"
)

// openConnection opens the sensor transport selected by the configuration:
// the WebSocket bridge when a URL is set, the serial port otherwise. It also
// returns a short description for the operator.
func openConnection(ctx context.Context, c *config.Config) (io.ReadWriteCloser, string, error) {
	if c.WebSocket.URL != "" {
		opts := port.WebSocketOptions{
			URL:      c.WebSocket.URL,
			Username: c.WebSocket.Username,
			Insecure: c.WebSocket.Insecure,
		}
		if opts.Username != "" {
			pw, err := getPassword()
			if err != nil {
				return nil, "", err
			}
			opts.Password = pw
		}
		ws, err := port.OpenWebSocket(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		return ws, "WebSocket " + c.WebSocket.URL, nil
	}

	conn, err := port.OpenSerial(c.Serial.Port, c.Serial.PortOptions)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial %s @ %d baud", c.Serial.Port, c.Serial.BaudRate), nil
}

// getPassword retrieves the bridge password from the environment or
// prompts for it.
func getPassword() (string, error) {
	if pw := os.Getenv("DISPENSER_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// Not a terminal; read a plain line.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return string(pw), nil
}

// openActuator creates the output backend selected by the configuration.
func openActuator(c config.ActuatorConfig) (actuator.Actuator, error) {
	switch c.Backend {
	case config.BackendGPIO:
		g, err := actuator.NewGPIO(gpioConfig(c))
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.BackendRecorder:
		return actuator.NewRecorder(), nil
	default:
		return nil, fmt.Errorf("invalid actuator backend: %q", c.Backend)
	}
}

func gpioConfig(c config.ActuatorConfig) actuator.GPIOConfig {
	return actuator.GPIOConfig{
		Pump:      c.Pump,
		Alert:     c.Alert,
		Armed:     c.Armed,
		Drive:     actuator.Drive(c.Drive),
		Frequency: physic.Frequency(c.Frequency) * physic.Hertz,
		Duty:      gpio.DutyMax * gpio.Duty(c.Duty) / 100,
	}
}
