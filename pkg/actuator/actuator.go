// Package actuator drives the pump and the two indicator outputs.
package actuator

import (
	"fmt"
	"sync"
)

// Indicator selects one of the indicator outputs.
type Indicator int

const (
	// IndicatorAlert is lit when no container was found or filling stopped.
	IndicatorAlert Indicator = iota
	// IndicatorArmed is lit while thresholds are configured and the
	// controller is verifying or measuring.
	IndicatorArmed
)

func (i Indicator) String() string {
	switch i {
	case IndicatorAlert:
		return "alert"
	case IndicatorArmed:
		return "armed"
	default:
		return fmt.Sprintf("Indicator(%d)", int(i))
	}
}

// Actuator is the output side of the controller.
type Actuator interface {
	SetPump(on bool) error
	SetIndicator(ind Indicator, on bool) error
}

// Call is one recorded actuator call.
type Call struct {
	Pump      bool // false for indicator calls
	Indicator Indicator
	On        bool
}

func (c Call) String() string {
	state := "off"
	if c.On {
		state = "on"
	}
	if c.Pump {
		return "pump " + state
	}
	return c.Indicator.String() + " " + state
}

// State is a snapshot of the outputs.
type State struct {
	Pump  bool
	Alert bool
	Armed bool
}

// Recorder is an in-memory Actuator. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	state State
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) SetPump(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Pump: true, On: on})
	r.state.Pump = on
	return nil
}

func (r *Recorder) SetIndicator(ind Indicator, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Indicator: ind, On: on})
	switch ind {
	case IndicatorAlert:
		r.state.Alert = on
	case IndicatorArmed:
		r.state.Armed = on
	default:
		return fmt.Errorf("unknown indicator %d", int(ind))
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// State returns the current outputs.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset clears the call log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = r.calls[:0]
}
