package plc

import (
	"math"
	"testing"

	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLoss(ch *ChannelDataset, points ...models.WavelengthPoint) {
	for _, p := range points {
		ch.InsertionLoss().Append(p.Wavelength, p.Value)
	}
}

func pt(wl, v float64) models.WavelengthPoint {
	return models.WavelengthPoint{Wavelength: wl, Value: v}
}

// vShape is a symmetric passband with its minimum at 1550nm, 1dB per 0.5nm.
func vShape() []models.WavelengthPoint {
	return []models.WavelengthPoint{
		pt(1548.0, 4), pt(1548.5, 3), pt(1549.0, 2), pt(1549.5, 1),
		pt(1550.0, 0),
		pt(1550.5, 1), pt(1551.0, 2), pt(1551.5, 3), pt(1552.0, 4),
	}
}

func TestFindPointAt(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)

	_, err := ch.FindPointAt(1550)
	assert.ErrorIs(t, err, ErrEmptyCurve)

	seedLoss(ch, vShape()...)

	p, err := ch.FindPointAt(1550.2)
	require.NoError(t, err)
	assert.Equal(t, pt(1550.5, 1), p)

	p, err = ch.FindPointAt(1500)
	require.NoError(t, err)
	assert.Equal(t, 1548.0, p.Wavelength)

	_, err = ch.FindPointAt(1553)
	assert.ErrorIs(t, err, ErrNoPointAtOrAfter)
}

func TestCalLossMinMaxInRange(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)
	seedLoss(ch, pt(1549, 3), pt(1549.5, 1), pt(1550, 0.2), pt(1550.5, 1), pt(1551, 3))

	minPt, maxPt, err := ch.CalLossMinMaxInRange(1550, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, pt(1550, 0.2), minPt)
	assert.Equal(t, pt(1549, 3), maxPt, "first occurrence wins the tie")

	minPt, _, err = ch.CalLossMinMaxInRange(1550.5, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, pt(1550.5, 1), minPt)

	_, _, err = ch.CalLossMinMaxInRange(1560, 1, 1)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestCalPassBand(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)
	seedLoss(ch, vShape()...)

	tests := []struct {
		name      string
		center    float64
		drop      float64
		wantLeft  float64
		wantRight float64
		wantWidth float64
	}{
		{"1dB at minimum", 1550, 1, 1549.5, 1550.5, 1.0},
		{"3dB at minimum", 1550, 3, 1548.5, 1551.5, 3.0},
		{"center between points uses next point", 1550.2, 1, 1549.0, 1551.0, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb, err := ch.CalPassBand(tt.center, tt.drop)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLeft, pb.Left.Wavelength)
			assert.Equal(t, tt.wantRight, pb.Right.Wavelength)
			assert.InDelta(t, tt.wantWidth, pb.Width, 1e-9)
		})
	}
}

func TestCalPassBandWithoutEdgeFails(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)
	seedLoss(ch, vShape()...)

	_, err := ch.CalPassBand(1550, 10)
	assert.ErrorIs(t, err, ErrNoEdge)

	// nothing below the first point
	_, err = ch.CalPassBand(1548, 1)
	assert.ErrorIs(t, err, ErrNoEdge)

	// a one-sided slope has a left edge but no right edge
	d2 := newDataset(t, 1550)
	ch2, _ := d2.Channel(0)
	seedLoss(ch2, pt(1549, 5), pt(1549.5, 2), pt(1550, 0), pt(1550.5, 0.2), pt(1551, 0.4))
	_, err = ch2.CalPassBand(1550, 1)
	assert.ErrorIs(t, err, ErrNoEdge)
}

func TestMSRAndDeltaLambda(t *testing.T) {
	d := newDataset(t, 1550.2)
	ch, _ := d.Channel(0)

	msr, err := ch.MSR()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(msr))
	delta, err := ch.DeltaLambda()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(delta))

	seedLoss(ch, vShape()...)

	msr, err = ch.MSR()
	require.NoError(t, err)
	assert.Equal(t, 1550.0, msr)

	delta, err = ch.DeltaLambda()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, delta, 1e-9)
}

func TestMSRUsesFirstGlobalMinimum(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)
	seedLoss(ch,
		pt(1548.0, 3), pt(1548.5, 0), pt(1549.0, 3),
		pt(1549.5, 3), pt(1550.0, 0), pt(1550.5, 3),
	)

	msr, err := ch.MSR()
	require.NoError(t, err)
	assert.Equal(t, 1548.5, msr)
}

func TestLossMinMaxRipple(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)

	minPt, err := ch.LossMin()
	require.NoError(t, err)
	assert.True(t, minPt.IsNaN())
	ripple, err := ch.LossRipple()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ripple))

	seedLoss(ch, vShape()...)

	minPt, err = ch.LossMin()
	require.NoError(t, err)
	assert.Equal(t, pt(1550, 0), minPt)

	maxPt, err := ch.LossMax()
	require.NoError(t, err)
	assert.Equal(t, pt(1549, 2), maxPt)

	ripple, err = ch.LossRipple()
	require.NoError(t, err)
	assert.Equal(t, 2.0, ripple)
}

func TestPassBandsOnEmptyCurveAreNaN(t *testing.T) {
	d := newDataset(t, 1550)
	ch, _ := d.Channel(0)

	pb, err := ch.PassBand1dB()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(pb.Width))

	pb, err = ch.PassBand3dB()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(pb.Width))
}

func TestAdjacentCrosstalk(t *testing.T) {
	d := newDataset(t, 1530, 1540, 1550)
	first, _ := d.Channel(0)
	middle, _ := d.Channel(1)
	last, _ := d.Channel(2)

	seedLoss(middle, pt(1529.5, 25), pt(1530, 22), pt(1540, 1), pt(1550, 30), pt(1550.5, 27))

	axn, err := middle.AxN()
	require.NoError(t, err)
	assert.Equal(t, pt(1530, 22), axn)

	axp, err := middle.AxP()
	require.NoError(t, err)
	assert.Equal(t, pt(1550.5, 27), axp)

	seedLoss(first, pt(1530, 1))
	axn, err = first.AxN()
	require.NoError(t, err)
	assert.True(t, axn.IsNaN(), "first channel has no previous neighbour")

	_, err = first.AxP()
	assert.ErrorIs(t, err, ErrEmptyWindow)

	seedLoss(last, pt(1550, 1))
	axp, err = last.AxP()
	require.NoError(t, err)
	assert.True(t, axp.IsNaN(), "last channel has no next neighbour")
}

func TestNonAdjacentCrosstalk(t *testing.T) {
	d := newDataset(t, 1530, 1540, 1550, 1560, 1570)
	ch, _ := d.Channel(0)

	seedLoss(ch,
		pt(1530, 1),
		pt(1549.5, 25), pt(1550, 20),
		pt(1559.8, 20), pt(1560.2, 30),
		pt(1570, 23),
	)

	nx, err := ch.NX()
	require.NoError(t, err)
	assert.InDelta(t, -16.0, nx, 0.05)
	assert.InDelta(t, 10*math.Log10(0.01+0.01+math.Pow(10, -2.3)), nx, 1e-9)
}

func TestNonAdjacentCrosstalkUndefined(t *testing.T) {
	d := newDataset(t, 1530, 1540, 1550)
	ch, _ := d.Channel(1)

	nx, err := ch.NX()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(nx), "empty curve")

	seedLoss(ch, pt(1530, 20), pt(1540, 1), pt(1550, 20))
	nx, err = ch.NX()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(nx), "no non-adjacent channel")
}

func TestResultsOnEmptyDataset(t *testing.T) {
	d := newDataset(t, 1530, 1540, 1550, 1560)

	results, err := d.Results()
	require.NoError(t, err)
	require.Len(t, results, 4)

	m := results[1].Model()
	assert.Equal(t, 1, m.Channel)
	assert.Equal(t, "Channel2", m.Label)
	assert.Nil(t, m.MSR)
	assert.Nil(t, m.DeltaLambda)
	assert.Nil(t, m.LossMin)
	assert.Nil(t, m.PassBand1dB)
	assert.Nil(t, m.AxN)
	assert.Nil(t, m.NX)
}

func TestResultCollectsMetricErrors(t *testing.T) {
	d := newDataset(t, 1550, 1560)
	ch, _ := d.Channel(0)
	seedLoss(ch, vShape()...)

	r, err := d.ChannelResult(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyWindow, "AxP window around 1560nm has no points")

	assert.Equal(t, 1550.0, r.MSR)
	assert.Equal(t, 1.0, r.PassBand1dB.Width)
	assert.Equal(t, 3.0, r.PassBand3dB.Width)
	assert.True(t, r.AxP.IsNaN())

	m := r.Model()
	require.NotNil(t, m.MSR)
	assert.Equal(t, 1550.0, *m.MSR)
	assert.Nil(t, m.AxP)
}
