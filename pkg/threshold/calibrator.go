package threshold

// Calibrator holds the scratch buffers of a calibration run. The buffers of
// the last run stay available for inspection until the next Compute.
type Calibrator struct {
	window     [WindowLen]int
	smoothed   [WindowLen]int
	candidates peakSet
	merged     peakSet
}

// Window returns the extracted profile window of the last run.
func (c *Calibrator) Window() []int { return c.window[:] }

// Smoothed returns the smoothed window of the last run.
func (c *Calibrator) Smoothed() []int { return c.smoothed[:] }

// Candidates returns the detected peaks before merging, in window
// coordinates.
func (c *Calibrator) Candidates() []Peak { return c.candidates.slice() }

// Merged returns the peaks that survived merging, in window coordinates.
func (c *Calibrator) Merged() []Peak { return c.merged.slice() }

// Compute calibrates raw into out. Profiles shorter than MinProfileLen and
// profiles with fewer than two distinct peaks yield the no-container result.
func (c *Calibrator) Compute(raw []int, out *Result) {
	c.candidates.reset()
	c.merged.reset()

	if len(raw) < MinProfileLen {
		out.setNoContainer()
		return
	}

	for i := range c.window {
		c.window[i] = trunc16(raw[WindowStart+i])
	}
	smooth(c.window[:], c.smoothed[:], SmoothWindow)
	detectPeaks(c.smoothed[:], DetectLevel, &c.candidates)
	mergeClose(c.candidates.slice(), MinProminence, &c.merged)

	peaks := c.merged.slice()
	if len(peaks) < 2 {
		out.setNoContainer()
		return
	}

	edge, liquid := classify(peaks, WindowLen)
	c.derive(peaks, edge, liquid, out)
}

func (c *Calibrator) derive(peaks []Peak, edge, liquid int, out *Result) {
	*out = Result{}
	for _, p := range peaks {
		out.peaks.push(p.shift(WindowStart))
	}

	e, l := peaks[edge], peaks[liquid]
	out.EdgePosition = e.Position + WindowStart
	out.LiquidPosition = l.Position + WindowStart

	var between peakSet
	for _, p := range peaks {
		if p.Role == RoleInterference && p.Position > e.Position && p.Position < l.Position {
			between.push(p)
		}
	}

	clusterRight, clusterAmp := e.Right, e.Amplitude
	var right peakSet
	if between.n > 0 {
		strongest := between.items[0]
		for _, p := range between.slice()[1:] {
			if p.Amplitude > strongest.Amplitude {
				strongest = p
			}
		}
		if strongest.Amplitude >= e.Amplitude {
			out.EdgeExtended = true
			clusterRight, clusterAmp = strongest.Right, strongest.Amplitude
			for _, p := range between.slice() {
				if p.Position > strongest.Position {
					right.push(p)
				}
			}
		}
	}

	near := min(clusterRight+3, l.Position-3)
	out.NearBoundary = trunc16(near + WindowStart)
	out.NearThreshold = trunc16(clusterAmp + trunc16(clusterAmp*3/20))

	far := DefaultFarBoundary
	if between.n > 0 && right.n > 0 {
		far = c.quietAfter(between.slice(), l.Position)
	}
	far = min(far, l.Position-2)
	out.FarBoundary = trunc16(far + WindowStart)

	farAmp := DefaultFarThreshold
	src := between.slice()
	if out.EdgeExtended {
		src = right.slice()
	}
	if len(src) > 0 {
		farAmp = src[0].Amplitude
		for _, p := range src[1:] {
			farAmp = max(farAmp, p.Amplitude)
		}
	}
	out.FarThreshold = trunc16(farAmp + trunc16((farAmp*2+5)/10))

	switch {
	case out.FarBoundary < out.NearBoundary:
		out.NearBoundary, out.FarBoundary = out.FarBoundary, out.NearBoundary
	case out.FarBoundary == out.NearBoundary:
		out.FarBoundary++
	}
}

// quietAfter starts at the rightmost interference boundary and returns the
// position where the smoothed signal has stayed below QuietLevel for
// QuietRun samples, searching up to the liquid peak.
func (c *Calibrator) quietAfter(interference []Peak, liquid int) int {
	pos := interference[0].Right
	for _, p := range interference[1:] {
		pos = max(pos, p.Right)
	}

	run := 0
	for i := pos + 1; i < liquid; i++ {
		if i >= 0 && i < WindowLen && c.smoothed[i] < QuietLevel {
			run++
			if run >= QuietRun {
				return i
			}
		} else {
			run = 0
		}
	}
	return pos
}

// smooth is a centered moving average, truncated at the array ends.
func smooth(in, out []int, window int) {
	if window <= 1 {
		copy(out, in)
		return
	}
	half := window / 2
	for i := range in {
		sum, cnt := 0, 0
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < len(in) {
				sum += in[j]
				cnt++
			}
		}
		out[i] = trunc16(sum / cnt)
	}
}

// detectPeaks finds rising local maxima at or above level and expands their
// boundaries down each slope.
func detectPeaks(sig []int, level int, out *peakSet) {
	floor := level * 4 / 10
	n := len(sig)

	for i := 1; i < n-1 && !out.full(); i++ {
		if !(sig[i] > sig[i-1] && sig[i] >= sig[i+1] && sig[i] >= level) {
			continue
		}

		left := i
		for left > 0 && sig[left-1] <= sig[left] && sig[left-1] > 0 {
			left--
			if sig[left] < floor {
				break
			}
		}
		right := i
		for right < n-1 && sig[right+1] <= sig[right] && sig[right+1] > 0 {
			right++
			if sig[right] < floor {
				break
			}
		}

		valley := sig[max(0, left-2)]
		for k := max(0, left-2) + 1; k <= left; k++ {
			valley = min(valley, sig[k])
		}
		for k := right; k <= min(right+2, n-1); k++ {
			valley = min(valley, sig[k])
		}

		out.push(Peak{
			Position:   i,
			Amplitude:  sig[i],
			Left:       left,
			Right:      right,
			Prominence: trunc16(sig[i] - valley),
		})
	}
}

// mergeClose folds neighbouring peaks of similar height into one cluster and
// keeps the clusters with enough prominence. in is sorted in place.
func mergeClose(in []Peak, minProminence int, out *peakSet) {
	if len(in) == 0 {
		return
	}
	sortByPosition(in)
	sorted := in

	emit := func(p Peak) {
		if p.Prominence >= minProminence {
			out.push(p)
		}
	}

	cur := sorted[0]
	for _, p := range sorted[1:] {
		lo, hi := min(p.Amplitude, cur.Amplitude), max(p.Amplitude, cur.Amplitude)
		if p.Position-cur.Position <= MergeDistance && lo*10 > hi*7 {
			if p.Amplitude > cur.Amplitude {
				cur.Position, cur.Amplitude = p.Position, p.Amplitude
			}
			cur.Left = min(cur.Left, p.Left)
			cur.Right = max(cur.Right, p.Right)
			cur.Prominence = max(cur.Prominence, p.Prominence)
			continue
		}
		emit(cur)
		cur = p
	}
	emit(cur)
}

// classify tags peaks (sorted, at least two) and returns the edge and liquid
// indexes.
func classify(peaks []Peak, windowLen int) (edge, liquid int) {
	edge, liquid = 0, len(peaks)-1
	peaks[edge].Role = RoleEdge

	if len(peaks) > 2 {
		past := peaks[edge].Position + (windowLen-peaks[edge].Position)*LiquidFraction/10
		best := -1
		for i := 1; i < len(peaks); i++ {
			if peaks[i].Position > past && (best < 0 || peaks[i].Amplitude > peaks[best].Amplitude) {
				best = i
			}
		}
		if best >= 0 {
			liquid = best
		}
	}
	peaks[liquid].Role = RoleLiquid

	for i := range peaks {
		if peaks[i].Role == RoleUnknown {
			peaks[i].Role = RoleInterference
		}
	}
	return edge, liquid
}
