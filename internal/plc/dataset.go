// Package plc holds the swept curves of a multi-channel PLC device and
// derives its optical metrics: insertion loss, passbands, MSR and crosstalk.
package plc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RMahshie/plcsweep/pkg/models"
)

// PLCDataset owns a fixed set of channels. Each Add call applies one sample
// under the write lock; result queries take the read lock.
type PLCDataset struct {
	mu       sync.RWMutex
	channels []*ChannelDataset
}

// New creates a dataset with maxChannel channels whose ITU wavelengths are
// given in channel order.
func New(maxChannel int, itu []float64) (*PLCDataset, error) {
	if maxChannel <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", maxChannel)
	}
	if len(itu) != maxChannel {
		return nil, fmt.Errorf("%d ITU wavelengths configured for %d channels", len(itu), maxChannel)
	}

	d := &PLCDataset{channels: make([]*ChannelDataset, maxChannel)}
	for i := range d.channels {
		d.channels[i] = &ChannelDataset{
			index:  i,
			label:  fmt.Sprintf("Channel%d", i+1),
			itu:    itu[i],
			parent: d,
		}
	}
	return d, nil
}

// MaxChannel returns the number of channels.
func (d *PLCDataset) MaxChannel() int { return len(d.channels) }

// Channel returns the i-th channel. Callers must not read its curves while a
// sweep is running; use ChannelResult instead.
func (d *PLCDataset) Channel(i int) (*ChannelDataset, error) {
	if i < 0 || i >= len(d.channels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrChannelIndex, i, len(d.channels))
	}
	return d.channels[i], nil
}

func (d *PLCDataset) checkCardinality(values []float64) error {
	if len(values) != len(d.channels) {
		return fmt.Errorf("%w: got %d values for %d channels", ErrCardinality, len(values), len(d.channels))
	}
	return nil
}

// AddReferenceData appends values[i] to channel i's reference curve.
func (d *PLCDataset) AddReferenceData(wavelength float64, values []float64) error {
	if err := d.checkCardinality(values); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		ch.addReferencePoint(wavelength, values[i])
	}
	return nil
}

// AddTestedData appends values[i] to channel i's through curve and derives its
// insertion loss against the reference recorded at the same wavelength.
// The sample is rejected as a whole if any channel lacks a usable reference.
func (d *PLCDataset) AddTestedData(wavelength float64, values []float64) error {
	if err := d.checkCardinality(values); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	refs := make([]float64, len(d.channels))
	for i, ch := range d.channels {
		ref, err := ch.referenceAt(wavelength)
		if err != nil {
			return err
		}
		refs[i] = ref
	}
	for i, ch := range d.channels {
		ch.addThroughPoint(wavelength, values[i], refs[i])
	}
	return nil
}

// ClearReferenceData clears every curve, since insertion loss is derived from
// the reference.
func (d *PLCDataset) ClearReferenceData() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		ch.clearReference()
	}
}

// ClearTestedData clears the through and insertion loss curves.
func (d *PLCDataset) ClearTestedData() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		ch.clearThroughPLC()
	}
}

// HasReference reports whether every channel holds reference data.
func (d *PLCDataset) HasReference() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.channels {
		if ch.reference.Len() == 0 {
			return false
		}
	}
	return true
}

// ChannelResult computes the metrics of channel i.
func (d *PLCDataset) ChannelResult(i int) (Result, error) {
	ch, err := d.Channel(i)
	if err != nil {
		return Result{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return ch.Result()
}

// Results computes the metrics of every channel. Partial results are always
// returned; the error joins every metric that could not be derived.
func (d *PLCDataset) Results() ([]Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Result, len(d.channels))
	var errs []error
	for i, ch := range d.channels {
		r, err := ch.Result()
		if err != nil {
			errs = append(errs, err)
		}
		out[i] = r
	}
	return out, errors.Join(errs...)
}

// Snapshot copies the curves of every channel.
func (d *PLCDataset) Snapshot() []models.ChannelCurves {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.ChannelCurves, len(d.channels))
	for i, ch := range d.channels {
		out[i] = models.ChannelCurves{
			Channel:       ch.index,
			Label:         ch.label,
			ITU:           ch.itu,
			Reference:     ch.reference.Points(),
			ThroughPLC:    ch.throughPLC.Points(),
			InsertionLoss: ch.insertionLoss.Points(),
		}
	}
	return out
}
