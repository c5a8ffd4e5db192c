// Package control sequences container detection, threshold calibration,
// verification, filling and reset.
//
// The machine is a pure function of its inputs: decoded frames are fed in,
// Step advances one state and returns the side effects to execute. It never
// touches the sensor or the pump itself.
package control

import (
	"fmt"
	"time"

	"github.com/itohio/godispense/pkg/threshold"
)

// State is the controller state.
type State int

const (
	StateDetect State = iota
	StateConfigure
	StateVerify
	StateMeasure
	StateWait
)

var stateNames = [...]string{
	StateDetect:    "DETECT",
	StateConfigure: "CONFIGURE",
	StateVerify:    "VERIFY",
	StateMeasure:   "MEASURE",
	StateWait:      "WAIT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

const (
	// DetectLevel is the filtered distance a container must come closer than.
	DetectLevel   = 250
	DetectConfirm = 15

	// ReleaseLevel is the filtered distance that means the container left.
	ReleaseLevel = 295
	WaitConfirm  = 3

	VerifyConfirm  = 8
	MeasureConfirm = 2
	MeasureGrace   = 4000 * time.Millisecond

	// Profile bins are converted to distance units as bin*430/225.
	distanceNum = 430
	distanceDen = 225

	stopMargin      = 20
	thresholdBump   = 20
	secondaryMargin = 50
)

// Params are the calibrated sensor settings and derived distances.
type Params struct {
	NearBoundary  int
	NearThreshold int
	FarBoundary   int
	FarThreshold  int

	EdgeDistance       int
	AlarmCheckDistance int
	StopDistance       int
	RequireStrongEcho  bool
}

// DefaultParams returns the sensor's power-on settings.
func DefaultParams() Params {
	return Params{
		NearBoundary:  threshold.DefaultNearBoundary,
		NearThreshold: threshold.DefaultNearThreshold,
		FarBoundary:   threshold.DefaultFarBoundary,
		FarThreshold:  threshold.DefaultFarThreshold,
		EdgeDistance:  160,
	}
}

// Context is the machine's bookkeeping.
type Context struct {
	State State

	// Confirm counts consecutive qualifying readings in Detect, Measure and
	// Wait.
	Confirm int
	// Verify counts consecutive clean readings in Verify.
	Verify int

	LastParse    time.Time
	MeasureEntry time.Time

	Params Params
}

// WatchdogMode selects the action taken when frames stop arriving.
type WatchdogMode string

const (
	// WatchdogReset restarts the whole device.
	WatchdogReset WatchdogMode = "reset"
	// WatchdogRecover restores sensor defaults and restarts detection.
	WatchdogRecover WatchdogMode = "recover"
)

// Timeouts are the ack timeouts used for the command sequences.
type Timeouts struct {
	// Stop is used when stopping capture from Detect and Verify.
	Stop time.Duration
	// StopFast is used when stopping capture from Measure, Wait and recovery.
	StopFast time.Duration
	// Configure is used for calibration results and reboots.
	Configure time.Duration
	// Restore is used for default settings pushed during recovery.
	Restore time.Duration
	// VerifyReboot is used for the reboot after a failed verification.
	VerifyReboot time.Duration
}

// DefaultTimeouts returns the standard ack timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Stop:         200 * time.Millisecond,
		StopFast:     100 * time.Millisecond,
		Configure:    500 * time.Millisecond,
		Restore:      200 * time.Millisecond,
		VerifyReboot: 150 * time.Millisecond,
	}
}

// Config configures a Machine.
type Config struct {
	Watchdog     time.Duration
	WatchdogMode WatchdogMode
	Timeouts     Timeouts
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Watchdog:     10000 * time.Millisecond,
		WatchdogMode: WatchdogReset,
		Timeouts:     DefaultTimeouts(),
	}
}

func toDistance(bin int) int {
	return bin * distanceNum / distanceDen
}
