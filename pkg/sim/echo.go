package sim

import (
	"github.com/chewxy/math32"

	"github.com/itohio/godispense/pkg/frame"
)

// strengthSpan is the number of bins averaged around an echo to get the
// strength the sensor compares against its thresholds.
const strengthSpan = 5

// echo is one reflection in the profile.
type echo struct {
	bin       float32
	amplitude float32
}

// render synthesizes the raw profile for the given echoes. A width of zero
// puts each echo into a single bin.
func render(dst *[frame.ProfileLen]int, echoes []echo, width float32, noise func() float32) {
	var acc [frame.ProfileLen]float32
	for _, e := range echoes {
		if width <= 0 {
			i := int(math32.Round(e.bin))
			if i >= 0 && i < len(acc) {
				acc[i] += e.amplitude
			}
			continue
		}
		span := int(math32.Ceil(4 * width))
		c := int(math32.Round(e.bin))
		for i := max(c-span, 0); i <= min(c+span, len(acc)-1); i++ {
			d := (float32(i) - e.bin) / width
			acc[i] += e.amplitude * math32.Exp(-d*d/2)
		}
	}

	for i, v := range acc {
		if noise != nil {
			v += noise()
		}
		dst[i] = int(math32.Max(math32.Round(v), 0))
	}
}

// strength averages the profile over strengthSpan bins centered on bin.
func strength(profile *[frame.ProfileLen]int, bin float32) int {
	c := int(math32.Round(bin))
	half := strengthSpan / 2
	sum, n := 0, 0
	for i := c - half; i <= c+half; i++ {
		if i >= 0 && i < len(profile) {
			sum += profile[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// toDistance converts a profile bin to the sensor's distance units.
func toDistance(bin float32) int {
	return int(bin) * 430 / 225
}
