// Package filter smooths the primary distance reading.
package filter

const (
	// Capacity is the maximum window size.
	Capacity = 16
	// SlowWindow is used while looking for or waiting on a container.
	SlowWindow = 16
	// FastWindow is used while verifying and measuring.
	FastWindow = 3
)

// MovingAverage is a running-sum moving average over a circular history.
// The window may change between updates. Shrinking it does not compact the
// history; entries beyond the new window are simply no longer replaced.
type MovingAverage struct {
	hist     [Capacity]int
	sum      int
	count    int
	pos      int
	window   int
	filtered int
}

// New creates a filter with the given window.
func New(window int) *MovingAverage {
	m := &MovingAverage{}
	m.SetWindow(window)
	return m
}

// Update adds v using the given window size and returns the filtered value.
func (m *MovingAverage) Update(v, window int) int {
	m.SetWindow(window)

	if m.count < m.window {
		m.sum += v
		m.hist[m.pos] = v
		m.count++
	} else {
		m.sum += v - m.hist[m.pos]
		m.hist[m.pos] = v
	}
	m.pos++
	if m.pos >= m.window {
		m.pos = 0
	}

	m.filtered = m.sum / m.count
	return m.filtered
}

// Reset clears the history, sum, count, cursor and filtered value.
// The window is kept.
func (m *MovingAverage) Reset() {
	m.hist = [Capacity]int{}
	m.sum = 0
	m.count = 0
	m.pos = 0
	m.filtered = 0
}

// SetWindow clamps and stores the window size.
func (m *MovingAverage) SetWindow(window int) {
	switch {
	case window < 1:
		window = 1
	case window > Capacity:
		window = Capacity
	}
	m.window = window
}

// Filtered returns the last filtered value.
func (m *MovingAverage) Filtered() int { return m.filtered }

// Count returns the number of samples accumulated since the last reset.
func (m *MovingAverage) Count() int { return m.count }

// Window returns the current window size.
func (m *MovingAverage) Window() int { return m.window }
