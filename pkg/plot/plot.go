// Package plot renders calibration runs for offline inspection.
package plot

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/itohio/godispense/pkg/threshold"
)

const (
	width  = 14 * vg.Inch
	height = 6 * vg.Inch
)

var (
	rawColor      = color.RGBA{R: 170, G: 170, B: 170, A: 255}
	smoothedColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	nearColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	farColor      = color.RGBA{R: 44, G: 160, B: 44, A: 255}

	roleColors = map[threshold.Role]color.Color{
		threshold.RoleUnknown:      color.RGBA{R: 127, G: 127, B: 127, A: 255},
		threshold.RoleEdge:         color.RGBA{R: 255, G: 127, B: 14, A: 255},
		threshold.RoleLiquid:       color.RGBA{R: 23, G: 190, B: 207, A: 255},
		threshold.RoleInterference: color.RGBA{R: 148, G: 103, B: 189, A: 255},
	}
)

// Calibration plots the profile window of the last calibration run, its
// smoothed signal, the classified peaks and the derived boundaries and
// thresholds, all against raw profile bins.
func Calibration(c *threshold.Calibrator, r *threshold.Result, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Bin"
	p.Y.Label.Text = "Amplitude"
	p.Add(plotter.NewGrid())

	raw, err := series(c.Window(), threshold.WindowStart, rawColor, 1)
	if err != nil {
		return nil, err
	}
	p.Add(raw)
	p.Legend.Add("raw", raw)

	smoothed, err := series(c.Smoothed(), threshold.WindowStart, smoothedColor, 2)
	if err != nil {
		return nil, err
	}
	p.Add(smoothed)
	p.Legend.Add("smoothed", smoothed)

	peaks := r.Peaks()
	offset := 0
	if len(peaks) == 0 {
		peaks = c.Merged()
		offset = threshold.WindowStart
	}
	if err := addPeaks(p, c.Smoothed(), peaks, offset); err != nil {
		return nil, err
	}

	top := maxOf(c.Window())
	if top < r.NearThreshold {
		top = r.NearThreshold
	}
	top += top / 10

	lines := []struct {
		label string
		pts   plotter.XYs
		color color.Color
		dash  bool
	}{
		{fmt.Sprintf("near boundary %d", r.NearBoundary), vertical(r.NearBoundary, top), nearColor, true},
		{fmt.Sprintf("far boundary %d", r.FarBoundary), vertical(r.FarBoundary, top), farColor, true},
		{fmt.Sprintf("near threshold %d", r.NearThreshold), horizontal(threshold.WindowStart, r.NearBoundary, r.NearThreshold), nearColor, false},
		{fmt.Sprintf("far threshold %d", r.FarThreshold), horizontal(r.NearBoundary, threshold.WindowEnd, r.FarThreshold), farColor, false},
	}
	for _, l := range lines {
		line, err := plotter.NewLine(l.pts)
		if err != nil {
			return nil, err
		}
		line.Color = l.color
		line.Width = vg.Points(1.5)
		if l.dash {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		p.Add(line)
		p.Legend.Add(l.label, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// Save writes p as an image; the format follows the file extension.
func Save(p *plot.Plot, filename string) error {
	if err := p.Save(width, height, filename); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// WritePNG writes p as PNG to w.
func WritePNG(p *plot.Plot, w io.Writer) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func series(values []int, offset int, c color.Color, w float64) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: float64(i + offset), Y: float64(v)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.Width = vg.Points(w)
	return line, nil
}

// addPeaks adds one scatter per role, placing each peak on the smoothed
// curve.
func addPeaks(p *plot.Plot, smoothed []int, peaks []threshold.Peak, offset int) error {
	byRole := make(map[threshold.Role]plotter.XYs)
	for _, pk := range peaks {
		x := pk.Position + offset
		i := x - threshold.WindowStart
		y := float64(pk.Amplitude)
		if i >= 0 && i < len(smoothed) {
			y = float64(smoothed[i])
		}
		byRole[pk.Role] = append(byRole[pk.Role], plotter.XY{X: float64(x), Y: y})
	}

	for _, role := range []threshold.Role{threshold.RoleEdge, threshold.RoleLiquid, threshold.RoleInterference, threshold.RoleUnknown} {
		pts, ok := byRole[role]
		if !ok {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = roleColors[role]
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(role.String(), s)
	}
	return nil
}

func vertical(x, top int) plotter.XYs {
	return plotter.XYs{{X: float64(x), Y: 0}, {X: float64(x), Y: float64(top)}}
}

func horizontal(from, to, y int) plotter.XYs {
	return plotter.XYs{{X: float64(from), Y: float64(y)}, {X: float64(to), Y: float64(y)}}
}

func maxOf(values []int) int {
	m := 0
	for _, v := range values {
		m = max(m, v)
	}
	return m
}
