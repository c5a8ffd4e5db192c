//go:build tinygo

package main

import "machine"

const (
	// Sensor UART (XIAO hardware UART)
	PIN_UART_TX = machine.D6
	PIN_UART_RX = machine.D7

	// Outputs. The pump sits on PA10 so it can be driven by a TCC channel.
	PIN_PUMP  = machine.D2
	PIN_ALERT = machine.D0 // no container / alert indicator
	PIN_ARMED = machine.D1 // container configured, filling allowed

	// PUMP_PWM drives the pump with PUMP_PWM_DUTY percent at PUMP_PWM_HZ
	// instead of a plain level.
	PUMP_PWM      = false
	PUMP_PWM_HZ   = 20000
	PUMP_PWM_DUTY = 60

	// Serial configuration, must match the sensor
	UART_BAUD_RATE = 115200

	// RECEIVE_POLL_MS is how often the UART buffer is moved into the ring.
	RECEIVE_POLL_MS = 1
)

// PUMP_TIMER is the TCC used when PUMP_PWM is set.
var PUMP_TIMER = machine.TCC1
