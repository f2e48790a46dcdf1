package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MeasureFunc selects what a source-meter senses.
type MeasureFunc int

const (
	MeasureCurrent MeasureFunc = iota
	MeasureVoltage
)

func (f MeasureFunc) scpi() string {
	if f == MeasureVoltage {
		return "VOLT"
	}
	return "CURR"
}

// SourceMode selects what a source-meter sources.
type SourceMode int

const (
	SourceVoltage SourceMode = iota
	SourceCurrent
)

func (m SourceMode) scpi() string {
	if m == SourceCurrent {
		return "CURR"
	}
	return "VOLT"
}

// Keithley2400 is one detector channel of the bench. The photodiode is
// biased at 0 V and its photocurrent is read back.
type Keithley2400 struct {
	t Transport
}

// NewKeithley2400 wraps a transport connected to a 2400.
func NewKeithley2400(t Transport) *Keithley2400 {
	return &Keithley2400{t: t}
}

// Identify returns the *IDN? response.
func (k *Keithley2400) Identify() (string, error) {
	idn, err := Query(k.t, "*IDN?")
	if err != nil {
		return "", errors.Wrap(err, "2400 identify")
	}
	return idn, nil
}

// Configure sets a zero-level source, a single sense function with the
// given compliance and a fixed sense range.
func (k *Keithley2400) Configure(fn MeasureFunc, src SourceMode, compliance, rng float64) error {
	errContext := "2400 configure"
	sense := fn.scpi()

	cmds := []string{
		":FORM:ELEM " + sense,
		fmt.Sprintf(`:SENS:FUNC:OFF:ALL;:SENS:FUNC:ON "%s"`, sense),
		":SOUR:FUNC " + src.scpi(),
		fmt.Sprintf(":SENS:%s:PROT %.7f", sense, compliance),
		fmt.Sprintf(":SENS:%s:RANG %g", sense, rng),
		fmt.Sprintf(":SOUR:%s:LEV 0", src.scpi()),
	}
	for _, cmd := range cmds {
		if err := k.t.Write(cmd); err != nil {
			return errors.Wrap(err, errContext)
		}
	}
	return nil
}

// SetOutputState switches the source output.
func (k *Keithley2400) SetOutputState(on bool) error {
	cmd := ":OUTP OFF"
	if on {
		cmd = ":OUTP ON"
	}
	return errors.Wrap(k.t.Write(cmd), "2400 set output")
}

// OutputState reports whether the source output is on.
func (k *Keithley2400) OutputState() (bool, error) {
	resp, err := Query(k.t, ":OUTP?")
	if err != nil {
		return false, errors.Wrap(err, "2400 output state")
	}
	return strings.TrimSpace(resp) == "1", nil
}

// ReadCurrent triggers one reading and returns it in amps. A reading the
// meter sends back but that does not parse is returned as NaN.
func (k *Keithley2400) ReadCurrent() (float64, error) {
	resp, err := Query(k.t, ":READ?")
	if err != nil {
		return math.NaN(), errors.Wrap(err, "2400 read current")
	}
	field := strings.TrimSpace(strings.Split(resp, ",")[0])
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return math.NaN(), nil
	}
	return v, nil
}

// SetDisplayText shows a short message on the front panel.
func (k *Keithley2400) SetDisplayText(text string) error {
	if len(text) > 12 {
		text = text[:12]
	}
	cmd := fmt.Sprintf(`:DISP:WIND1:TEXT:DATA "%s";STAT ON`, text)
	return errors.Wrap(k.t.Write(cmd), "2400 display text")
}

// Close closes the transport.
func (k *Keithley2400) Close() error {
	return k.t.Close()
}
