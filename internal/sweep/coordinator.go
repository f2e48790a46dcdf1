// Package sweep sequences the laser and source-meters through a wavelength
// sweep and feeds every sample into a PLC dataset.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/RMahshie/plcsweep/internal/events"
	"github.com/RMahshie/plcsweep/internal/instrument"
	"github.com/RMahshie/plcsweep/internal/plc"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCanceled is returned when a sweep stops because it was canceled.
	// It is not an instrument fault.
	ErrCanceled = errors.New("sweep canceled")
	// ErrLaserNotEnabled is returned when the laser does not report its
	// output on after being enabled.
	ErrLaserNotEnabled = errors.New("laser output did not turn on")
)

// CanceledMessage is published once when a sweep is canceled.
const CanceledMessage = "The sweeping process was canceled."

// OpticalSource is the tunable laser.
type OpticalSource interface {
	SetOutput(on bool) error
	GetOutput() (bool, error)
	SetPower(mw float64) error
	SetWavelength(nm float64) error
}

// SourceMeter is one detector channel.
type SourceMeter interface {
	Configure(fn instrument.MeasureFunc, src instrument.SourceMode, compliance, rng float64) error
	SetOutputState(on bool) error
	ReadCurrent() (float64, error)
}

type identifier interface {
	Identify() (string, error)
}

type displayer interface {
	SetDisplayText(text string) error
}

// Config holds the sweep parameters.
type Config struct {
	Start float64 // nm
	Step  float64 // nm
	End   float64 // nm
	Power float64 // mW

	SettleDelay     time.Duration
	DiscardReads    int
	DiscardInterval time.Duration

	Compliance   float64 // A
	MeasureRange float64 // A
}

// DefaultConfig returns the bench defaults.
func DefaultConfig() Config {
	return Config{
		Start:           1310,
		Step:            0.1,
		End:             1390,
		Power:           1,
		SettleDelay:     20 * time.Millisecond,
		DiscardReads:    5,
		DiscardInterval: 100 * time.Millisecond,
		Compliance:      0.01,
		MeasureRange:    1e-3,
	}
}

// Validate checks that the range can be swept.
func (c Config) Validate() error {
	if c.Step <= 0 || math.IsNaN(c.Step) {
		return fmt.Errorf("sweep step must be positive, got %g", c.Step)
	}
	if c.End < c.Start {
		return fmt.Errorf("sweep end %g is below start %g", c.End, c.Start)
	}
	if c.DiscardReads < 0 {
		return fmt.Errorf("discard reads must not be negative, got %d", c.DiscardReads)
	}
	return nil
}

// Wavelengths returns every sweep wavelength, Start and End included,
// rounded to 1pm.
func (c Config) Wavelengths() []float64 {
	n := int(math.Floor((c.End-c.Start)/c.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = round3(c.Start + float64(i)*c.Step)
	}
	return out
}

// Coordinator runs sweeps. It does not prevent two sweeps from running at
// once; the caller serialises them.
type Coordinator struct {
	cfg      Config
	laser    OpticalSource
	meters   []SourceMeter
	dataset  *plc.PLCDataset
	reporter events.Reporter

	// sleep is swapped out in tests.
	sleep func(time.Duration)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCoordinator wires a coordinator. There must be one meter per channel.
func NewCoordinator(cfg Config, laser OpticalSource, meters []SourceMeter, dataset *plc.PLCDataset, reporter events.Reporter) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(meters) != dataset.MaxChannel() {
		return nil, fmt.Errorf("%d source-meters for %d channels", len(meters), dataset.MaxChannel())
	}
	if reporter == nil {
		reporter = events.MultiReporter(nil)
	}
	return &Coordinator{
		cfg:      cfg,
		laser:    laser,
		meters:   meters,
		dataset:  dataset,
		reporter: reporter,
		sleep:    time.Sleep,
	}, nil
}

// Config returns the sweep parameters.
func (c *Coordinator) Config() Config { return c.cfg }

// Dataset returns the dataset the coordinator writes to.
func (c *Coordinator) Dataset() *plc.PLCDataset { return c.dataset }

// Stop cancels the running sweep, if any. The sweep notices at its next step.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// RunReferenceSweep clears the reference data and records a new reference.
func (c *Coordinator) RunReferenceSweep(ctx context.Context) error {
	c.dataset.ClearReferenceData()
	return c.run(ctx, "reference", c.dataset.AddReferenceData)
}

// RunDeviceSweep clears the tested data and records the device response
// against the current reference.
func (c *Coordinator) RunDeviceSweep(ctx context.Context) error {
	c.dataset.ClearTestedData()
	return c.run(ctx, "device", c.dataset.AddTestedData)
}

func (c *Coordinator) run(parent context.Context, kind string, add func(float64, []float64) error) (err error) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	started := time.Now()
	log.Info().
		Str("kind", kind).
		Float64("start", c.cfg.Start).
		Float64("end", c.cfg.End).
		Float64("step", c.cfg.Step).
		Msg("Sweep starting")

	defer func() {
		if cerr := c.cleanup(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		c.reporter.Message(fmt.Sprintf("The sweeping process costs %.0fs", time.Since(started).Seconds()))
		log.Info().Str("kind", kind).Dur("elapsed", time.Since(started)).Err(err).Msg("Sweep finished")
	}()

	if err := c.prepare(); err != nil {
		return err
	}

	c.reporter.Message(fmt.Sprintf("Start to sweep from %gnm to %gnm with step %gnm ...", c.cfg.Start, c.cfg.End, c.cfg.Step))

	values := make([]float64, len(c.meters))
	for _, wl := range c.cfg.Wavelengths() {
		if err := c.laser.SetWavelength(wl); err != nil {
			return fmt.Errorf("set wavelength %.3fnm: %w", wl, err)
		}
		c.sleep(c.cfg.SettleDelay)

		for i, m := range c.meters {
			amps, err := m.ReadCurrent()
			if err != nil {
				return fmt.Errorf("read channel %d at %.3fnm: %w", i, wl, err)
			}
			values[i] = amps * 1000
		}
		if err := add(wl, values); err != nil {
			return fmt.Errorf("store sample at %.3fnm: %w", wl, err)
		}

		c.reporter.Progress(c.progress(wl))

		if ctx.Err() != nil {
			c.reporter.Message(CanceledMessage)
			return ErrCanceled
		}
	}
	return nil
}

// prepare enables the laser and biases every meter.
func (c *Coordinator) prepare() error {
	if err := c.laser.SetPower(c.cfg.Power); err != nil {
		return fmt.Errorf("set optical power: %w", err)
	}
	if err := c.laser.SetOutput(true); err != nil {
		return fmt.Errorf("enable laser: %w", err)
	}
	on, err := c.laser.GetOutput()
	if err != nil {
		return fmt.Errorf("read laser output state: %w", err)
	}
	if !on {
		return ErrLaserNotEnabled
	}

	for i, m := range c.meters {
		if err := m.Configure(instrument.MeasureCurrent, instrument.SourceVoltage, c.cfg.Compliance, c.cfg.MeasureRange); err != nil {
			return fmt.Errorf("configure channel %d: %w", i, err)
		}
		if err := m.SetOutputState(true); err != nil {
			return fmt.Errorf("enable channel %d: %w", i, err)
		}
		// the first readings after enabling the output are unsettled
		for n := 0; n < c.cfg.DiscardReads; n++ {
			if _, err := m.ReadCurrent(); err != nil {
				return fmt.Errorf("discard read on channel %d: %w", i, err)
			}
			c.sleep(c.cfg.DiscardInterval)
		}
	}
	return nil
}

// cleanup turns every output off, attempting each one regardless of earlier failures.
func (c *Coordinator) cleanup() error {
	var errs []error
	if err := c.laser.SetOutput(false); err != nil {
		errs = append(errs, fmt.Errorf("disable laser: %w", err))
	}
	for i, m := range c.meters {
		if err := m.SetOutputState(false); err != nil {
			errs = append(errs, fmt.Errorf("disable channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) progress(wl float64) float64 {
	if c.cfg.End == c.cfg.Start {
		return 1
	}
	return (wl - c.cfg.Start) / (c.cfg.End - c.cfg.Start)
}

// ConnectInstruments identifies every instrument and labels the meter
// displays. All failures are reported together.
func (c *Coordinator) ConnectInstruments(ctx context.Context) ([]string, error) {
	var found []string
	var errs []error

	if id, ok := c.laser.(identifier); ok {
		idn, err := id.Identify()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("laser: %w", err))
		case !strings.Contains(idn, "8164B"):
			errs = append(errs, fmt.Errorf("laser: unexpected instrument %q", idn))
		default:
			found = append(found, idn)
		}
	}

	for i, m := range c.meters {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if id, ok := m.(identifier); ok {
			idn, err := id.Identify()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
				continue
			case !strings.Contains(idn, "2400"):
				errs = append(errs, fmt.Errorf("channel %d: unexpected instrument %q", i, idn))
				continue
			default:
				found = append(found, idn)
			}
		}
		if d, ok := m.(displayer); ok {
			if err := d.SetDisplayText(fmt.Sprintf("PLC CH %d", i+1)); err != nil {
				errs = append(errs, fmt.Errorf("channel %d display: %w", i, err))
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Err(err).Int("found", len(found)).Msg("Instrument check failed")
	} else {
		log.Info().Strs("instruments", found).Msg("Instruments connected")
	}
	return found, err
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
