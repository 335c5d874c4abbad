package domain

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// GridDeltas holds signed distances in metres between neighbouring cells of
// a regular latitude/longitude grid. DX is Rows×(Cols-1), DY is (Rows-1)×Cols.
type GridDeltas struct {
	DX *Field
	DY *Field
}

// LatLonGridDeltas computes ellipsoidal cell spacing. Spacing is negative
// where the coordinate decreases along its axis.
func LatLonGridDeltas(lat, lon []float64) (GridDeltas, error) {
	rows, cols := len(lat), len(lon)
	if rows < 3 || cols < 3 {
		return GridDeltas{}, fmt.Errorf("grid %dx%d too small for finite differences", rows, cols)
	}
	dx := NewField(rows, cols-1)
	for r, phi := range lat {
		n := primeVerticalRadius(phi)
		cosPhi := math.Cos(radians(phi))
		for c := 0; c < cols-1; c++ {
			dx.Set(r, c, n*cosPhi*radians(lon[c+1]-lon[c]))
		}
	}
	dy := NewField(rows-1, cols)
	for r := 0; r < rows-1; r++ {
		m := meridionalRadius((lat[r] + lat[r+1]) / 2)
		d := m * radians(lat[r+1]-lat[r])
		for c := 0; c < cols; c++ {
			dy.Set(r, c, d)
		}
	}
	return GridDeltas{DX: dx, DY: dy}, nil
}

func primeVerticalRadius(phi float64) float64 {
	s := math.Sin(radians(phi))
	return wgs84A / math.Sqrt(1-wgs84E2*s*s)
}

func meridionalRadius(phi float64) float64 {
	s := math.Sin(radians(phi))
	return wgs84A * (1 - wgs84E2) / math.Pow(1-wgs84E2*s*s, 1.5)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Vorticity returns dv/dx - du/dy.
func Vorticity(u, v *Field, d GridDeltas) (*Field, error) {
	dvdx, err := derivativeX(v, d.DX)
	if err != nil {
		return nil, err
	}
	dudy, err := derivativeY(u, d.DY)
	if err != nil {
		return nil, err
	}
	out := NewField(u.Rows, u.Cols)
	for i := range out.Data {
		out.Data[i] = dvdx.Data[i] - dudy.Data[i]
	}
	return out, nil
}

// Divergence returns du/dx + dv/dy.
func Divergence(u, v *Field, d GridDeltas) (*Field, error) {
	dudx, err := derivativeX(u, d.DX)
	if err != nil {
		return nil, err
	}
	dvdy, err := derivativeY(v, d.DY)
	if err != nil {
		return nil, err
	}
	out := NewField(u.Rows, u.Cols)
	for i := range out.Data {
		out.Data[i] = dudx.Data[i] + dvdy.Data[i]
	}
	return out, nil
}

func derivativeX(f, dx *Field) (*Field, error) {
	if dx.Rows != f.Rows || dx.Cols != f.Cols-1 {
		return nil, fmt.Errorf("x spacing is %dx%d for a %dx%d field", dx.Rows, dx.Cols, f.Rows, f.Cols)
	}
	out := NewField(f.Rows, f.Cols)
	vals := make([]float64, f.Cols)
	deltas := make([]float64, f.Cols-1)
	for r := 0; r < f.Rows; r++ {
		for c := range vals {
			vals[c] = f.At(r, c)
		}
		for c := range deltas {
			deltas[c] = dx.At(r, c)
		}
		for c, v := range firstDerivative(vals, deltas) {
			out.Set(r, c, v)
		}
	}
	return out, nil
}

func derivativeY(f, dy *Field) (*Field, error) {
	if dy.Rows != f.Rows-1 || dy.Cols != f.Cols {
		return nil, fmt.Errorf("y spacing is %dx%d for a %dx%d field", dy.Rows, dy.Cols, f.Rows, f.Cols)
	}
	out := NewField(f.Rows, f.Cols)
	vals := make([]float64, f.Rows)
	deltas := make([]float64, f.Rows-1)
	for c := 0; c < f.Cols; c++ {
		for r := range vals {
			vals[r] = f.At(r, c)
		}
		for r := range deltas {
			deltas[r] = dy.At(r, c)
		}
		for r, v := range firstDerivative(vals, deltas) {
			out.Set(r, c, v)
		}
	}
	return out, nil
}

// firstDerivative is the second-order accurate derivative of f on a
// non-uniform 1-D grid: centred differences inside, one-sided three-point
// differences at both ends. len(f) must be at least 3.
func firstDerivative(f, delta []float64) []float64 {
	n := len(f)
	out := make([]float64, n)

	for i := 1; i < n-1; i++ {
		d0, d1 := delta[i-1], delta[i]
		combined := d0 + d1
		out[i] = -d1/(combined*d0)*f[i-1] +
			(d1-d0)/(d0*d1)*f[i] +
			d0/(combined*d1)*f[i+1]
	}

	d0, d1 := delta[0], delta[1]
	combined := d0 + d1
	big := combined + d0
	out[0] = -big/(combined*d0)*f[0] +
		combined/(d0*d1)*f[1] -
		d0/(combined*d1)*f[2]

	d0, d1 = delta[n-3], delta[n-2]
	combined = d0 + d1
	big = combined + d1
	out[n-1] = d1/(combined*d0)*f[n-3] -
		combined/(d0*d1)*f[n-2] +
		big/(combined*d1)*f[n-1]

	return out
}
