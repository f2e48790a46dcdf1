package plc

import (
	"errors"
	"fmt"
	"math"

	"github.com/RMahshie/plcsweep/pkg/models"
)

// Window half-widths, in nm, around an ITU wavelength used for loss and crosstalk.
const (
	lossWindowLeft  = 1.0
	lossWindowRight = 1.0
)

// PassBand is the span around a center wavelength where insertion loss stays
// within a drop of the loss at the center.
type PassBand struct {
	Left  models.WavelengthPoint
	Right models.WavelengthPoint
	Width float64
}

func nanPassBand() PassBand {
	return PassBand{Left: models.NaNPoint(), Right: models.NaNPoint(), Width: math.NaN()}
}

// Result is a snapshot of every derived metric of one channel.
type Result struct {
	Channel     int
	Label       string
	ITU         float64
	Points      int
	MSR         float64
	DeltaLambda float64
	LossMin     models.WavelengthPoint
	LossMax     models.WavelengthPoint
	LossRipple  float64
	PassBand1dB PassBand
	PassBand3dB PassBand
	AxN         models.WavelengthPoint
	AxP         models.WavelengthPoint
	NX          float64
}

// FindPointAt returns the first insertion loss point at or after wavelength.
func (c *ChannelDataset) FindPointAt(wavelength float64) (models.WavelengthPoint, error) {
	if c.insertionLoss.Len() == 0 {
		return models.WavelengthPoint{}, ErrEmptyCurve
	}
	i := c.insertionLoss.IndexAtOrAfter(wavelength)
	if i == c.insertionLoss.Len() {
		return models.WavelengthPoint{}, fmt.Errorf("%w %.3fnm", ErrNoPointAtOrAfter, wavelength)
	}
	return c.insertionLoss.At(i), nil
}

// CalLossMinMaxInRange returns the minimum and maximum loss points within
// [center-left, center+right]. Ties go to the lowest wavelength.
func (c *ChannelDataset) CalLossMinMaxInRange(center, left, right float64) (minPt, maxPt models.WavelengthPoint, err error) {
	window := c.insertionLoss.Window(center-left, center+right)
	if len(window) == 0 {
		return minPt, maxPt, fmt.Errorf("%w [%.3f, %.3f]nm", ErrEmptyWindow, center-left, center+right)
	}

	minPt, maxPt = window[0], window[0]
	for _, p := range window[1:] {
		if p.Value < minPt.Value {
			minPt = p
		}
		if p.Value > maxPt.Value {
			maxPt = p
		}
	}
	return minPt, maxPt, nil
}

// CalPassBand finds the edges where the loss first rises dropDB above the loss
// at the point nearest center, searching outward on each side.
func (c *ChannelDataset) CalPassBand(center, dropDB float64) (PassBand, error) {
	ref, err := c.FindPointAt(center)
	if err != nil {
		return PassBand{}, err
	}
	target := ref.Value + dropDB
	refIdx := c.insertionLoss.IndexAtOrAfter(ref.Wavelength)

	left, found := models.WavelengthPoint{}, false
	for i := refIdx - 1; i >= 0; i-- {
		if p := c.insertionLoss.At(i); p.Value >= target {
			left, found = p, true
			break
		}
	}
	if !found {
		return PassBand{}, fmt.Errorf("%w of %.2fdB below %.3fnm", ErrNoEdge, target, ref.Wavelength)
	}

	right, found := models.WavelengthPoint{}, false
	for i := refIdx + 1; i < c.insertionLoss.Len(); i++ {
		if p := c.insertionLoss.At(i); p.Value >= target {
			right, found = p, true
			break
		}
	}
	if !found {
		return PassBand{}, fmt.Errorf("%w of %.2fdB above %.3fnm", ErrNoEdge, target, ref.Wavelength)
	}

	return PassBand{Left: left, Right: right, Width: right.Wavelength - left.Wavelength}, nil
}

// MSR is the midpoint of the 1dB passband around the minimum loss point,
// rounded to 1pm. NaN while there is no data.
func (c *ChannelDataset) MSR() (float64, error) {
	if c.insertionLoss.Len() == 0 {
		return math.NaN(), nil
	}

	m := c.insertionLoss.At(0)
	for i := 1; i < c.insertionLoss.Len(); i++ {
		if p := c.insertionLoss.At(i); p.Value < m.Value {
			m = p
		}
	}

	pb, err := c.CalPassBand(m.Wavelength, 1)
	if err != nil {
		return math.NaN(), fmt.Errorf("msr: %w", err)
	}
	return round3((pb.Left.Wavelength + pb.Right.Wavelength) / 2), nil
}

// DeltaLambda is |MSR - ITU|.
func (c *ChannelDataset) DeltaLambda() (float64, error) {
	msr, err := c.MSR()
	if err != nil {
		return math.NaN(), err
	}
	return math.Abs(msr - c.itu), nil
}

// LossMin is the minimum loss within ITU ±1nm.
func (c *ChannelDataset) LossMin() (models.WavelengthPoint, error) {
	if c.insertionLoss.Len() == 0 {
		return models.NaNPoint(), nil
	}
	minPt, _, err := c.CalLossMinMaxInRange(c.itu, lossWindowLeft, lossWindowRight)
	if err != nil {
		return models.NaNPoint(), fmt.Errorf("loss min: %w", err)
	}
	return minPt, nil
}

// LossMax is the maximum loss within ITU ±1nm.
func (c *ChannelDataset) LossMax() (models.WavelengthPoint, error) {
	if c.insertionLoss.Len() == 0 {
		return models.NaNPoint(), nil
	}
	_, maxPt, err := c.CalLossMinMaxInRange(c.itu, lossWindowLeft, lossWindowRight)
	if err != nil {
		return models.NaNPoint(), fmt.Errorf("loss max: %w", err)
	}
	return maxPt, nil
}

// LossRipple is |LossMax - LossMin|.
func (c *ChannelDataset) LossRipple() (float64, error) {
	if c.insertionLoss.Len() == 0 {
		return math.NaN(), nil
	}
	minPt, maxPt, err := c.CalLossMinMaxInRange(c.itu, lossWindowLeft, lossWindowRight)
	if err != nil {
		return math.NaN(), fmt.Errorf("loss ripple: %w", err)
	}
	return math.Abs(maxPt.Value - minPt.Value), nil
}

func (c *ChannelDataset) passBandAtITU(dropDB float64) (PassBand, error) {
	if c.insertionLoss.Len() == 0 {
		return nanPassBand(), nil
	}
	pb, err := c.CalPassBand(c.itu, dropDB)
	if err != nil {
		return nanPassBand(), fmt.Errorf("%gdB passband: %w", dropDB, err)
	}
	return pb, nil
}

// PassBand1dB is the 1dB passband around the ITU wavelength.
func (c *ChannelDataset) PassBand1dB() (PassBand, error) { return c.passBandAtITU(1) }

// PassBand3dB is the 3dB passband around the ITU wavelength.
func (c *ChannelDataset) PassBand3dB() (PassBand, error) { return c.passBandAtITU(3) }

// lossAtChannel is this channel's minimum loss within ±1nm of another channel's ITU.
func (c *ChannelDataset) lossAtChannel(other *ChannelDataset) (models.WavelengthPoint, error) {
	if c.insertionLoss.Len() == 0 {
		return models.NaNPoint(), nil
	}
	minPt, _, err := c.CalLossMinMaxInRange(other.itu, lossWindowLeft, lossWindowRight)
	if err != nil {
		return models.NaNPoint(), fmt.Errorf("crosstalk at %s: %w", other.label, err)
	}
	return minPt, nil
}

// AxN is the crosstalk from the previous channel; NaN for the first channel.
func (c *ChannelDataset) AxN() (models.WavelengthPoint, error) {
	if c.parent == nil || c.index == 0 {
		return models.NaNPoint(), nil
	}
	return c.lossAtChannel(c.parent.channels[c.index-1])
}

// AxP is the crosstalk from the next channel; NaN for the last channel.
func (c *ChannelDataset) AxP() (models.WavelengthPoint, error) {
	if c.parent == nil || c.index+1 >= len(c.parent.channels) {
		return models.NaNPoint(), nil
	}
	return c.lossAtChannel(c.parent.channels[c.index+1])
}

// NX sums the power leaking in at every non-adjacent channel's ITU and
// returns it in dB. NaN when there is no data or no non-adjacent channel.
func (c *ChannelDataset) NX() (float64, error) {
	if c.parent == nil || c.insertionLoss.Len() == 0 {
		return math.NaN(), nil
	}

	sum, contributors := 0.0, 0
	for _, other := range c.parent.channels {
		if other.index >= c.index-1 && other.index <= c.index+1 {
			continue
		}
		minPt, err := c.lossAtChannel(other)
		if err != nil {
			return math.NaN(), fmt.Errorf("nx: %w", err)
		}
		sum += math.Pow(10, -minPt.Value/10)
		contributors++
	}
	if contributors == 0 {
		return math.NaN(), nil
	}
	return 10 * math.Log10(sum), nil
}

// Result computes every metric. A metric whose search fails is NaN in the
// result and its error is included in the joined error.
func (c *ChannelDataset) Result() (Result, error) {
	r := Result{
		Channel: c.index,
		Label:   c.label,
		ITU:     c.itu,
		Points:  c.insertionLoss.Len(),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	r.MSR, err = c.MSR()
	collect(err)
	r.DeltaLambda = math.Abs(r.MSR - c.itu)
	r.LossMin, err = c.LossMin()
	collect(err)
	r.LossMax, err = c.LossMax()
	collect(err)
	r.LossRipple = math.Abs(r.LossMax.Value - r.LossMin.Value)
	r.PassBand1dB, err = c.PassBand1dB()
	collect(err)
	r.PassBand3dB, err = c.PassBand3dB()
	collect(err)
	r.AxN, err = c.AxN()
	collect(err)
	r.AxP, err = c.AxP()
	collect(err)
	r.NX, err = c.NX()
	collect(err)

	if len(errs) > 0 {
		return r, fmt.Errorf("%s: %w", c.label, errors.Join(errs...))
	}
	return r, nil
}

// Model converts the result to its wire form, turning NaN into nil.
func (r Result) Model() models.ChannelResult {
	return models.ChannelResult{
		Channel:     r.Channel,
		Label:       r.Label,
		ITU:         r.ITU,
		Points:      r.Points,
		MSR:         models.Finite(r.MSR),
		DeltaLambda: models.Finite(r.DeltaLambda),
		LossMin:     pointOrNil(r.LossMin),
		LossMax:     pointOrNil(r.LossMax),
		LossRipple:  models.Finite(r.LossRipple),
		PassBand1dB: models.Finite(r.PassBand1dB.Width),
		PassBand3dB: models.Finite(r.PassBand3dB.Width),
		AxN:         pointOrNil(r.AxN),
		AxP:         pointOrNil(r.AxP),
		NX:          models.Finite(r.NX),
	}
}

func pointOrNil(p models.WavelengthPoint) *models.WavelengthPoint {
	if p.IsNaN() {
		return nil
	}
	return &p
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
