// Command dispenser runs the liquid-level controller on a host and offers
// tools for working with the sensor.
package main

import (
	"errors"
	"os"

	"github.com/itohio/godispense/pkg/dispenser"
)

// exitReset tells a supervisor that the controller asked for a restart.
const exitReset = 3

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, dispenser.ErrDeviceReset) {
			os.Exit(exitReset)
		}
		os.Exit(1)
	}
}
