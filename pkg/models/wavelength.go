package models

import (
	"encoding/json"
	"math"
)

// WavelengthPoint represents a single swept measurement
type WavelengthPoint struct {
	Wavelength float64 `json:"wavelength" doc:"Wavelength in nm"`
	Value      float64 `json:"value" doc:"Measured value, mA for raw curves and dB for insertion loss"`
}

// NaNPoint is the value reported for a point that is not defined yet.
func NaNPoint() WavelengthPoint {
	return WavelengthPoint{Wavelength: math.NaN(), Value: math.NaN()}
}

// IsNaN reports whether either coordinate of the point is NaN.
func (p WavelengthPoint) IsNaN() bool {
	return math.IsNaN(p.Wavelength) || math.IsNaN(p.Value)
}

type wavelengthPointJSON struct {
	Wavelength *float64 `json:"wavelength"`
	Value      *float64 `json:"value"`
}

// MarshalJSON writes non-finite coordinates as null since JSON has no NaN.
func (p WavelengthPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(wavelengthPointJSON{
		Wavelength: Finite(p.Wavelength),
		Value:      Finite(p.Value),
	})
}

// UnmarshalJSON reads null coordinates back as NaN.
func (p *WavelengthPoint) UnmarshalJSON(data []byte) error {
	var w wavelengthPointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Wavelength = orNaN(w.Wavelength)
	p.Value = orNaN(w.Value)
	return nil
}

// Finite returns nil for NaN and infinite values so they serialize as null.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
