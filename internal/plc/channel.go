package plc

import (
	"errors"
	"fmt"
	"math"

	"github.com/RMahshie/plcsweep/internal/curve"
)

// MaxInsertionLoss caps derived insertion loss in dB.
const MaxInsertionLoss = 40.0

var (
	ErrCardinality      = errors.New("sample count does not match the channel count")
	ErrNoReference      = errors.New("no matching reference point")
	ErrNaNReference     = errors.New("reference intensity is NaN")
	ErrEmptyCurve       = errors.New("insertion loss curve is empty")
	ErrNoPointAtOrAfter = errors.New("no point at or after wavelength")
	ErrEmptyWindow      = errors.New("no points in wavelength window")
	ErrNoEdge           = errors.New("insertion loss never reaches the passband threshold")
	ErrChannelIndex     = errors.New("channel index out of range")
)

// ChannelDataset holds the curves of one PLC output channel.
//
// Its methods do not lock. Mutation goes through PLCDataset, and concurrent
// readers should use PLCDataset.Results / ChannelResult.
type ChannelDataset struct {
	index  int
	label  string
	itu    float64
	parent *PLCDataset

	reference     curve.Curve
	throughPLC    curve.Curve
	insertionLoss curve.Curve
}

func (c *ChannelDataset) Index() int     { return c.index }
func (c *ChannelDataset) Label() string  { return c.label }
func (c *ChannelDataset) ITU() float64   { return c.itu }
func (c *ChannelDataset) String() string { return c.label }

func (c *ChannelDataset) Reference() *curve.Curve     { return &c.reference }
func (c *ChannelDataset) ThroughPLC() *curve.Curve    { return &c.throughPLC }
func (c *ChannelDataset) InsertionLoss() *curve.Curve { return &c.insertionLoss }

func (c *ChannelDataset) addReferencePoint(wavelength, intensity float64) {
	c.reference.Append(wavelength, math.Abs(intensity))
}

// referenceAt finds the reference intensity a through point is compared with.
func (c *ChannelDataset) referenceAt(wavelength float64) (float64, error) {
	ref, ok := c.reference.Lookup(wavelength)
	if !ok {
		return 0, fmt.Errorf("%s: %w at %.3fnm", c.label, ErrNoReference, wavelength)
	}
	if math.IsNaN(ref.Value) {
		return 0, fmt.Errorf("%s: %w at %.3fnm", c.label, ErrNaNReference, wavelength)
	}
	return ref.Value, nil
}

func (c *ChannelDataset) addThroughPoint(wavelength, intensity, reference float64) {
	intensity = math.Abs(intensity)
	c.throughPLC.Append(wavelength, intensity)

	il := -10.0 * math.Log10(intensity/reference)
	if il > MaxInsertionLoss {
		il = MaxInsertionLoss
	}
	c.insertionLoss.Append(wavelength, il)
}

func (c *ChannelDataset) clearReference() {
	c.reference.Clear()
	c.clearThroughPLC()
}

func (c *ChannelDataset) clearThroughPLC() {
	c.throughPLC.Clear()
	c.insertionLoss.Clear()
}
