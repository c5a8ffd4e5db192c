package actuator

// PWMPeriod returns the period in nanoseconds for freqHz. Zero selects 1 kHz.
func PWMPeriod(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1000
	}
	return 1e9 / uint64(freqHz)
}

// DutyValue scales percent (clamped to 0..100) onto a timer counting to top.
func DutyValue(top uint32, percent int) uint32 {
	switch {
	case percent <= 0:
		return 0
	case percent >= 100:
		return top
	}
	return uint32(uint64(top) * uint64(percent) / 100)
}
