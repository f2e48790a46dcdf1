package instrument

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Default line speeds. The Prologix USB adapter ignores the baud rate; the
// Keithley 2400 RS-232 port ships at 9600.
const (
	PrologixBaudRate = 115200
	DefaultBaudRate  = 9600
)

// ListSerialPorts returns the serial devices present on this machine.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// OpenSerial opens a serial line with 8N1 framing. Reads that see no data
// within timeout fail with ErrReadTimeout.
func OpenSerial(name string, baudRate int, timeout time.Duration) (Transport, error) {
	port, err := openSerialPort(name, baudRate, timeout)
	if err != nil {
		return nil, err
	}
	return newLineTransport(port, "\n"), nil
}

func openSerialPort(name string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		if ports, perr := ListSerialPorts(); perr == nil {
			log.Warn().Strs("available", ports).Str("port", name).Msg("Serial port did not open")
		}
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "reset input buffer")
	}

	return &timeoutPort{Port: port}, nil
}

// timeoutPort turns the (0, nil) result of a timed out serial read into an error.
type timeoutPort struct {
	serial.Port
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrReadTimeout
	}
	return n, err
}
