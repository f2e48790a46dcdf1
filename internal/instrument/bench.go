package instrument

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// Bench modes and transports.
const (
	ModeHardware  = "hardware"
	ModeSimulated = "simulated"

	TransportGPIBSerial = "gpib-serial"
	TransportGPIBTCP    = "gpib-tcp"
	TransportTCP        = "tcp"
	TransportSerial     = "serial"
)

// Laser is everything the service needs from the tunable laser.
type Laser interface {
	Identify() (string, error)
	SetOutput(on bool) error
	GetOutput() (bool, error)
	SetPower(mw float64) error
	SetWavelength(nm float64) error
}

// Meter is everything the service needs from a source-meter.
type Meter interface {
	Identify() (string, error)
	Configure(fn MeasureFunc, src SourceMode, compliance, rng float64) error
	SetOutputState(on bool) error
	ReadCurrent() (float64, error)
	SetDisplayText(text string) error
}

// BenchConfig says how to reach the instruments.
type BenchConfig struct {
	Mode      string
	Transport string
	// Port is the Prologix adapter: a serial device or host:port.
	Port           string
	LaserGPIB      int
	MeterGPIB      []int
	LaserAddress   string
	MeterAddresses []string
	Timeout        time.Duration
	ITU            []float64
}

// Bench is an opened set of instruments, meters in channel order.
type Bench struct {
	Laser  Laser
	Meters []Meter
	// Simulated is set when the bench is simulated.
	Simulated *SimulatedBench

	closers []io.Closer
}

// OpenBench connects to the instruments described by cfg.
func OpenBench(cfg BenchConfig) (*Bench, error) {
	switch cfg.Mode {
	case ModeSimulated:
		sim := NewSimulatedBench(cfg.ITU, DefaultSimulatedOptions())
		b := &Bench{Laser: sim.Laser(), Simulated: sim}
		for _, m := range sim.Meters() {
			b.Meters = append(b.Meters, m)
		}
		log.Info().Int("channels", len(b.Meters)).Msg("Using simulated bench")
		return b, nil
	case ModeHardware:
		return openHardware(cfg)
	default:
		return nil, fmt.Errorf("unknown bench mode %q", cfg.Mode)
	}
}

func openHardware(cfg BenchConfig) (*Bench, error) {
	b := &Bench{}
	var err error

	switch cfg.Transport {
	case TransportGPIBSerial, TransportGPIBTCP:
		err = b.openGPIB(cfg)
	case TransportTCP:
		err = b.openDirect(cfg, func(addr string) (Transport, error) {
			return DialTCP(addr, cfg.Timeout)
		})
	case TransportSerial:
		err = b.openDirect(cfg, func(name string) (Transport, error) {
			return OpenSerial(name, DefaultBaudRate, cfg.Timeout)
		})
	default:
		err = fmt.Errorf("unknown bench transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}

	log.Info().
		Str("transport", cfg.Transport).
		Int("channels", len(b.Meters)).
		Msg("Bench opened")
	return b, nil
}

func (b *Bench) openGPIB(cfg BenchConfig) error {
	var bus io.ReadWriteCloser
	var err error
	if cfg.Transport == TransportGPIBSerial {
		bus, err = openSerialPort(cfg.Port, PrologixBaudRate, cfg.Timeout)
	} else {
		bus, err = dialConn(cfg.Port, cfg.Timeout)
	}
	if err != nil {
		return err
	}

	adapter := NewPrologixAdapter(bus)
	b.closers = append(b.closers, adapter)

	laser, err := adapter.Device(cfg.LaserGPIB)
	if err != nil {
		return err
	}
	b.Laser = NewKeysight8164B(laser)

	for _, addr := range cfg.MeterGPIB {
		t, err := adapter.Device(addr)
		if err != nil {
			return err
		}
		b.Meters = append(b.Meters, NewKeithley2400(t))
	}
	return nil
}

func (b *Bench) openDirect(cfg BenchConfig, open func(string) (Transport, error)) error {
	laser, err := open(cfg.LaserAddress)
	if err != nil {
		return err
	}
	k := NewKeysight8164B(laser)
	b.Laser = k
	b.closers = append(b.closers, k)

	for _, addr := range cfg.MeterAddresses {
		t, err := open(addr)
		if err != nil {
			return err
		}
		m := NewKeithley2400(t)
		b.Meters = append(b.Meters, m)
		b.closers = append(b.closers, m)
	}
	return nil
}

// Insert forwards to the simulated fixture; hardware benches are switched by hand.
func (b *Bench) Insert(device bool) {
	if b.Simulated != nil {
		b.Simulated.Insert(device)
	}
}

// Close closes every transport that was opened.
func (b *Bench) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
