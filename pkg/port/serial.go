package port

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Port describes an available serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns the serial ports present on the system.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		desc := name
		p, err := serial.Open(name, &serial.Mode{BaudRate: DefaultBaudRate})
		if err != nil {
			desc = name + " (busy)"
		} else {
			p.Close()
		}
		result = append(result, Port{Name: name, Description: desc})
	}
	return result, nil
}

// OpenSerial opens the named serial port.
func OpenSerial(name string, opts PortOptions) (io.ReadWriteCloser, error) {
	if name == "" {
		return nil, fmt.Errorf("no serial port specified")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return p, nil
}
