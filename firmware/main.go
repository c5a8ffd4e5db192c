//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"context"
	"errors"
	"machine"
	"time"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/dispenser"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/rxring"
)

var uart = machine.UART1

// outputs drives the pump and indicator pins. A nil pwm means the pump pin
// is a plain level output.
type outputs struct {
	pwm *machine.TCC
	ch  uint8
}

func (o outputs) SetPump(on bool) error {
	if o.pwm == nil {
		PIN_PUMP.Set(on)
		return nil
	}
	var duty uint32
	if on {
		duty = actuator.DutyValue(o.pwm.Top(), PUMP_PWM_DUTY)
	}
	o.pwm.Set(o.ch, duty)
	return nil
}

func (outputs) SetIndicator(ind actuator.Indicator, on bool) error {
	switch ind {
	case actuator.IndicatorAlert:
		PIN_ALERT.Set(on)
	case actuator.IndicatorArmed:
		PIN_ARMED.Set(on)
	}
	return nil
}

func main() {
	// Configure output pins, all off
	for _, pin := range []machine.Pin{PIN_PUMP, PIN_ALERT, PIN_ARMED} {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pin.Low()
	}
	out, err := pumpOutputs()
	if err != nil {
		println("pump pwm:", err.Error())
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
		TX:       PIN_UART_TX,
		RX:       PIN_UART_RX,
	})

	ring := rxring.New(rxring.DefaultSize)
	go receive(ring)

	lnk := link.NewATLink(uart, ring, nil, nil)
	ctrl := dispenser.New(dispenser.DefaultConfig(), ring, lnk, out, nil)

	err = ctrl.Run(context.Background())
	if errors.Is(err, dispenser.ErrDeviceReset) {
		machine.CPUReset()
	}
	// Run only returns on reset.
	for {
		time.Sleep(time.Second)
	}
}

// pumpOutputs sets up the pump timer when PUMP_PWM is enabled. On failure
// the pump falls back to a level output.
func pumpOutputs() (outputs, error) {
	if !PUMP_PWM {
		return outputs{}, nil
	}
	err := PUMP_TIMER.Configure(machine.PWMConfig{Period: actuator.PWMPeriod(PUMP_PWM_HZ)})
	if err != nil {
		return outputs{}, err
	}
	ch, err := PUMP_TIMER.Channel(PIN_PUMP)
	if err != nil {
		return outputs{}, err
	}
	PUMP_TIMER.Set(ch, 0)
	return outputs{pwm: PUMP_TIMER, ch: ch}, nil
}

// receive moves bytes from the UART interrupt buffer into the ring. The
// controller only ever reads the ring.
func receive(ring *rxring.Ring) {
	for {
		for uart.Buffered() > 0 {
			b, err := uart.ReadByte()
			if err != nil {
				break
			}
			ring.WriteByte(b)
		}
		time.Sleep(RECEIVE_POLL_MS * time.Millisecond)
	}
}
