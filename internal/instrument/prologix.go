package instrument

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gotmc/prologix"
	"github.com/pkg/errors"
)

// ErrUnpairedRead is returned by a GPIB device read that does not follow a
// query. The controller only reads back when asked to by a query.
var ErrUnpairedRead = errors.New("gpib read without a query")

// PrologixAdapter shares one Prologix GPIB-USB or GPIB-ETHERNET controller
// between the instruments on its bus. Each device gets its own
// prologix.Controller; the adapter lock serializes address changes so only
// one device talks at a time.
type PrologixAdapter struct {
	mu      sync.Mutex
	bus     io.ReadWriteCloser
	current int
}

// NewPrologixAdapter takes ownership of an opened serial line or socket to
// the controller.
func NewPrologixAdapter(bus io.ReadWriteCloser) *PrologixAdapter {
	return &PrologixAdapter{bus: bus, current: -1}
}

// Device configures the controller for one GPIB primary address and returns
// a transport bound to it.
func (a *PrologixAdapter) Device(addr int) (Transport, error) {
	if addr < 0 || addr > 30 {
		return nil, fmt.Errorf("gpib address %d out of range 0-30", addr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctrl, err := prologix.NewController(a.bus, addr, false)
	if err != nil {
		return nil, errors.Wrapf(err, "configure gpib address %d", addr)
	}
	a.current = addr
	return &gpibDevice{adapter: a, addr: addr, ctrl: ctrl}, nil
}

// Close closes the underlying bus connection.
func (a *PrologixAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bus.Close()
}

// selectAddr must be called with mu held.
func (a *PrologixAdapter) selectAddr(addr int) error {
	if a.current == addr {
		return nil
	}
	if _, err := fmt.Fprintf(a.bus, "++addr %d\n", addr); err != nil {
		return errors.Wrapf(err, "select gpib address %d", addr)
	}
	a.current = addr
	return nil
}

type gpibDevice struct {
	adapter *PrologixAdapter
	addr    int
	ctrl    *prologix.Controller
}

func (d *gpibDevice) Write(cmd string) error {
	a := d.adapter
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.selectAddr(d.addr); err != nil {
		return err
	}
	if err := d.ctrl.Command(cmd); err != nil {
		return errors.Wrapf(err, "gpib %d: write %q", d.addr, cmd)
	}
	return nil
}

// Query sends cmd and reads the answer while holding the bus.
func (d *gpibDevice) Query(cmd string) (string, error) {
	a := d.adapter
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.selectAddr(d.addr); err != nil {
		return "", err
	}
	resp, err := d.ctrl.Query(cmd)
	resp = strings.TrimRight(resp, "\r\n")
	if err == io.EOF && resp != "" {
		err = nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "gpib %d: query %q", d.addr, cmd)
	}
	return resp, nil
}

func (d *gpibDevice) Read() (string, error) {
	return "", errors.Wrapf(ErrUnpairedRead, "gpib %d", d.addr)
}

// Close is a no-op; the adapter owns the bus.
func (d *gpibDevice) Close() error { return nil }
