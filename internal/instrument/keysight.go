package instrument

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Keysight8164B is the tunable laser source of the bench. Commands address
// source slot 0.
type Keysight8164B struct {
	t Transport
}

// NewKeysight8164B wraps a transport connected to the mainframe.
func NewKeysight8164B(t Transport) *Keysight8164B {
	return &Keysight8164B{t: t}
}

// Identify returns the *IDN? response.
func (k *Keysight8164B) Identify() (string, error) {
	idn, err := Query(k.t, "*IDN?")
	if err != nil {
		return "", errors.Wrap(err, "8164B identify")
	}
	return idn, nil
}

// SetOutput switches the laser output.
func (k *Keysight8164B) SetOutput(on bool) error {
	cmd := "outp 0"
	if on {
		cmd = "outp 1"
	}
	return errors.Wrap(k.t.Write(cmd), "8164B set output")
}

// GetOutput reports whether the laser output is on.
func (k *Keysight8164B) GetOutput() (bool, error) {
	resp, err := Query(k.t, "outp?")
	if err != nil {
		return false, errors.Wrap(err, "8164B get output")
	}
	return strings.Contains(resp, "1"), nil
}

// SetPower sets the optical output power in mW.
func (k *Keysight8164B) SetPower(mw float64) error {
	return errors.Wrap(k.t.Write(fmt.Sprintf("sour0:pow %gmw", mw)), "8164B set power")
}

// SetWavelength tunes the laser, in nm.
func (k *Keysight8164B) SetWavelength(nm float64) error {
	return errors.Wrap(k.t.Write(fmt.Sprintf("sour0:wav %.3fnm", nm)), "8164B set wavelength")
}

// Close closes the transport.
func (k *Keysight8164B) Close() error {
	return k.t.Close()
}
