package instrument

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// ErrOutputOff is returned by a simulated meter read while its output is off.
var ErrOutputOff = errors.New("source output is off")

// SimulatedOptions shape the simulated PLC response.
type SimulatedOptions struct {
	// Responsivity of the detectors in A/W.
	Responsivity float64
	// ExcessLoss is the in-band insertion loss of the device in dB.
	ExcessLoss float64
	// Isolation caps the out-of-band loss in dB.
	Isolation float64
	// HalfWidth of each channel passband in nm.
	HalfWidth float64
	// Order of the super-Gaussian passband shape.
	Order int
}

// DefaultSimulatedOptions describe a LAN-WDM-like demultiplexer.
func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{
		Responsivity: 0.9,
		ExcessLoss:   1.5,
		Isolation:    35,
		HalfWidth:    5,
		Order:        3,
	}
}

// SimulatedBench models a laser feeding either a straight fibre (reference)
// or a PLC demultiplexer (device) whose outputs land on one meter each.
type SimulatedBench struct {
	mu         sync.Mutex
	opts       SimulatedOptions
	itu        []float64
	laserOn    bool
	power      float64
	wavelength float64
	inserted   bool
	stuckOff   bool

	laser  *SimulatedLaser
	meters []*SimulatedMeter
}

// NewSimulatedBench builds a bench with one meter per ITU wavelength.
func NewSimulatedBench(itu []float64, opts SimulatedOptions) *SimulatedBench {
	b := &SimulatedBench{opts: opts, itu: append([]float64(nil), itu...), power: 1}
	b.laser = &SimulatedLaser{bench: b}
	b.meters = make([]*SimulatedMeter, len(itu))
	for i := range b.meters {
		b.meters[i] = &SimulatedMeter{bench: b, channel: i}
	}
	return b
}

// Laser returns the simulated tunable laser.
func (b *SimulatedBench) Laser() *SimulatedLaser { return b.laser }

// Meters returns the simulated source-meters in channel order.
func (b *SimulatedBench) Meters() []*SimulatedMeter { return b.meters }

// Insert puts the device under test in the beam path, or takes it out for a
// reference sweep.
func (b *SimulatedBench) Insert(device bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserted = device
}

// SetLaserStuckOff makes the laser ignore requests to enable its output.
func (b *SimulatedBench) SetLaserStuckOff(stuck bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stuckOff = stuck
}

// Transmission returns the linear power transmission of channel at nm.
func (b *SimulatedBench) Transmission(channel int, nm float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transmission(channel, nm)
}

// transmission must be called with mu held.
func (b *SimulatedBench) transmission(channel int, nm float64) float64 {
	if !b.inserted {
		return 1
	}
	o := b.opts
	x := (nm - b.itu[channel]) / o.HalfWidth
	shape := math.Exp(-math.Pow(x*x, float64(o.Order)))
	return math.Pow(10, -o.ExcessLoss/10)*shape + math.Pow(10, -o.Isolation/10)
}

// SimulatedLaser satisfies the laser capability set.
type SimulatedLaser struct {
	bench *SimulatedBench
}

func (l *SimulatedLaser) Identify() (string, error) {
	return "Keysight Technologies,8164B,SIM00000,V5.25(72637)", nil
}

func (l *SimulatedLaser) SetOutput(on bool) error {
	b := l.bench
	b.mu.Lock()
	defer b.mu.Unlock()
	b.laserOn = on && !b.stuckOff
	return nil
}

func (l *SimulatedLaser) GetOutput() (bool, error) {
	b := l.bench
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.laserOn, nil
}

func (l *SimulatedLaser) SetPower(mw float64) error {
	if mw <= 0 {
		return fmt.Errorf("optical power must be positive, got %gmW", mw)
	}
	b := l.bench
	b.mu.Lock()
	defer b.mu.Unlock()
	b.power = mw
	return nil
}

func (l *SimulatedLaser) SetWavelength(nm float64) error {
	b := l.bench
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wavelength = nm
	return nil
}

func (l *SimulatedLaser) Close() error { return nil }

// SimulatedMeter reads the photocurrent of one PLC output.
type SimulatedMeter struct {
	bench      *SimulatedBench
	channel    int
	configured bool
	output     bool
	display    string
}

func (m *SimulatedMeter) Identify() (string, error) {
	return "KEITHLEY INSTRUMENTS INC.,MODEL 2400,SIM0000" + fmt.Sprint(m.channel) + ",C30", nil
}

func (m *SimulatedMeter) Configure(fn MeasureFunc, src SourceMode, compliance, rng float64) error {
	if fn != MeasureCurrent {
		return errors.New("simulated meter only measures current")
	}
	m.bench.mu.Lock()
	defer m.bench.mu.Unlock()
	m.configured = true
	return nil
}

func (m *SimulatedMeter) SetOutputState(on bool) error {
	m.bench.mu.Lock()
	defer m.bench.mu.Unlock()
	m.output = on
	return nil
}

func (m *SimulatedMeter) OutputState() (bool, error) {
	m.bench.mu.Lock()
	defer m.bench.mu.Unlock()
	return m.output, nil
}

// ReadCurrent returns the photocurrent in amps. The sign follows a reverse
// biased photodiode.
func (m *SimulatedMeter) ReadCurrent() (float64, error) {
	b := m.bench
	b.mu.Lock()
	defer b.mu.Unlock()

	if !m.output {
		return math.NaN(), errors.Wrapf(ErrOutputOff, "channel %d", m.channel)
	}
	if !b.laserOn {
		return -1e-12, nil
	}
	watts := b.power / 1000
	return -watts * b.opts.Responsivity * b.transmission(m.channel, b.wavelength), nil
}

func (m *SimulatedMeter) SetDisplayText(text string) error {
	m.bench.mu.Lock()
	defer m.bench.mu.Unlock()
	m.display = text
	return nil
}

// DisplayText returns the last text shown on the front panel.
func (m *SimulatedMeter) DisplayText() string {
	m.bench.mu.Lock()
	defer m.bench.mu.Unlock()
	return m.display
}

func (m *SimulatedMeter) Close() error { return nil }
