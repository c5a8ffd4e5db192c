package control

import (
	"fmt"
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/link"
)

// EffectKind identifies a side effect requested by the machine.
type EffectKind int

const (
	// EffectSend sends Command and waits up to Timeout for the ack.
	EffectSend EffectKind = iota
	// EffectFlush drops unread receive bytes.
	EffectFlush
	// EffectPump switches the pump.
	EffectPump
	// EffectIndicator switches Indicator.
	EffectIndicator
	// EffectReset restarts the whole device.
	EffectReset
)

// Effect is one side effect. Effects are executed in order.
type Effect struct {
	Kind      EffectKind
	Command   link.Command
	Timeout   time.Duration
	Indicator actuator.Indicator
	On        bool
}

func (e Effect) String() string {
	switch e.Kind {
	case EffectSend:
		return fmt.Sprintf("send %s (%s)", e.Command, e.Timeout)
	case EffectFlush:
		return "flush"
	case EffectPump:
		return actuator.Call{Pump: true, On: e.On}.String()
	case EffectIndicator:
		return actuator.Call{Indicator: e.Indicator, On: e.On}.String()
	case EffectReset:
		return "reset"
	default:
		return fmt.Sprintf("EffectKind(%d)", int(e.Kind))
	}
}

func send(cmd link.Command, timeout time.Duration) Effect {
	return Effect{Kind: EffectSend, Command: cmd, Timeout: timeout}
}

func flush() Effect { return Effect{Kind: EffectFlush} }

func pump(on bool) Effect { return Effect{Kind: EffectPump, On: on} }

func indicator(ind actuator.Indicator, on bool) Effect {
	return Effect{Kind: EffectIndicator, Indicator: ind, On: on}
}
