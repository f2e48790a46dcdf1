// Package curve holds swept wavelength data in sweep order.
package curve

import (
	"sort"

	"github.com/RMahshie/plcsweep/pkg/models"
)

// Curve is an append-only sequence of points ordered by strictly increasing
// wavelength. The ordering comes from the sweep and is not re-checked.
// A Curve is not safe for concurrent use; the owning dataset locks around it.
type Curve struct {
	points []models.WavelengthPoint
}

// Append adds a point at the end of the curve.
func (c *Curve) Append(wavelength, value float64) {
	c.points = append(c.points, models.WavelengthPoint{Wavelength: wavelength, Value: value})
}

// Len returns the number of points.
func (c *Curve) Len() int { return len(c.points) }

// At returns the i-th point in sweep order.
func (c *Curve) At(i int) models.WavelengthPoint { return c.points[i] }

// Clear drops every point, keeping the backing array for the next sweep.
func (c *Curve) Clear() { c.points = c.points[:0] }

// Points returns a copy of the curve.
func (c *Curve) Points() []models.WavelengthPoint {
	out := make([]models.WavelengthPoint, len(c.points))
	copy(out, c.points)
	return out
}

// IndexAtOrAfter returns the index of the first point whose wavelength is
// >= wavelength, or Len() if there is none.
func (c *Curve) IndexAtOrAfter(wavelength float64) int {
	return sort.Search(len(c.points), func(i int) bool {
		return c.points[i].Wavelength >= wavelength
	})
}

// Lookup returns the point recorded at exactly the given wavelength.
func (c *Curve) Lookup(wavelength float64) (models.WavelengthPoint, bool) {
	i := c.IndexAtOrAfter(wavelength)
	if i < len(c.points) && c.points[i].Wavelength == wavelength {
		return c.points[i], true
	}
	return models.WavelengthPoint{}, false
}

// Window returns the points with lo <= wavelength <= hi in ascending order.
// The returned slice aliases the curve and must not be modified.
func (c *Curve) Window(lo, hi float64) []models.WavelengthPoint {
	from := c.IndexAtOrAfter(lo)
	to := from
	for to < len(c.points) && c.points[to].Wavelength <= hi {
		to++
	}
	return c.points[from:to]
}
