package monitor

// Downsample reduces values to at most maxPoints buckets, keeping the
// largest value of each bucket so narrow echoes stay visible.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
func Downsample(dst []int, values []int, maxPoints int) []int {
	if maxPoints <= 0 {
		return dst[:0]
	}
	if len(values) <= maxPoints {
		if cap(dst) >= len(values) {
			dst = dst[:len(values)]
		} else {
			dst = make([]int, len(values))
		}
		copy(dst, values)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]int, 0, maxPoints)
	}

	step := float64(len(values)) / float64(maxPoints)
	for i := range maxPoints {
		from := int(float64(i) * step)
		to := int(float64(i+1) * step)
		if to > len(values) || i == maxPoints-1 {
			to = len(values)
		}
		m := values[from]
		for _, v := range values[from+1 : to] {
			m = max(m, v)
		}
		dst = append(dst, m)
	}
	return dst
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as block characters scaled to top. Values at or
// below zero render as the lowest block.
func Sparkline(values []int, top int) string {
	if top <= 0 {
		top = 1
	}
	out := make([]rune, len(values))
	last := len(sparkBlocks) - 1
	for i, v := range values {
		idx := v * last / top
		out[i] = sparkBlocks[min(max(idx, 0), last)]
	}
	return string(out)
}
