// Package report renders swept curves as images.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/RMahshie/plcsweep/pkg/models"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when no channel has an insertion loss curve.
var ErrNoData = errors.New("no insertion loss data to plot")

// PNGContentType is the content type of rendered plots.
const PNGContentType = "image/png"

// InsertionLossPNG draws the insertion loss of every channel on one chart,
// with a marker at each ITU wavelength.
func InsertionLossPNG(title string, channels []models.ChannelCurves) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Insertion loss (dB)"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	drawn := 0
	for i, ch := range channels {
		pts := finitePoints(ch.InsertionLoss)
		if len(pts) < 2 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch.Channel, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (%.0fnm)", ch.Label, ch.ITU), line)

		lo, hi := yRange(pts)
		marker, err := plotter.NewLine(plotter.XYs{{X: ch.ITU, Y: lo}, {X: ch.ITU, Y: hi}})
		if err != nil {
			return nil, fmt.Errorf("channel %d ITU marker: %w", ch.Channel, err)
		}
		marker.Color = line.Color
		marker.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(marker)
		drawn++
	}
	if drawn == 0 {
		return nil, ErrNoData
	}

	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

func yRange(pts plotter.XYs) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, pt := range pts {
		lo = math.Min(lo, pt.Y)
		hi = math.Max(hi, pt.Y)
	}
	return lo, hi
}

// finitePoints drops points gonum cannot draw.
func finitePoints(curve []models.WavelengthPoint) plotter.XYs {
	pts := make(plotter.XYs, 0, len(curve))
	for _, pt := range curve {
		if pt.IsNaN() || math.IsInf(pt.Value, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: pt.Wavelength, Y: pt.Value})
	}
	return pts
}
