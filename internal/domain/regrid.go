package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tidwall/rtree"
)

// SourceGrid is the native geometry of a converted field. Rectilinear grids
// carry one latitude per row and one longitude per column; curvilinear
// grids (HRRR's Lambert conformal) carry a coordinate pair per cell.
type SourceGrid struct {
	Rows        int
	Cols        int
	Lat         []float64
	Lon         []float64
	Curvilinear bool
}

// Validate checks coordinate lengths against the declared shape.
func (s SourceGrid) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("invalid source shape %dx%d", s.Rows, s.Cols)
	}
	if s.Curvilinear {
		if len(s.Lat) != s.Rows*s.Cols || len(s.Lon) != s.Rows*s.Cols {
			return fmt.Errorf("curvilinear coordinates need %d values, got lat=%d lon=%d",
				s.Rows*s.Cols, len(s.Lat), len(s.Lon))
		}
		return nil
	}
	if len(s.Lat) != s.Rows || len(s.Lon) != s.Cols {
		return fmt.Errorf("rectilinear coordinates need lat=%d lon=%d, got lat=%d lon=%d",
			s.Rows, s.Cols, len(s.Lat), len(s.Lon))
	}
	return nil
}

// curvilinearMargin is how far, in degrees, source points outside the target
// footprint are still indexed, and the largest accepted neighbour distance.
const curvilinearMargin = 0.5

// Resampler maps every target cell to its nearest source cell. Build one per
// source geometry and apply it to each variable on that geometry.
type Resampler struct {
	rows    int
	cols    int
	srcSize int
	index   []int // source offset per target cell, -1 outside the source
}

// NewResampler computes the nearest-neighbour mapping from src onto dst.
func NewResampler(src SourceGrid, dst *Grid) (*Resampler, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if dst.Rows() == 0 || dst.Cols() == 0 {
		return nil, errors.New("empty target grid")
	}
	r := &Resampler{
		rows:    dst.Rows(),
		cols:    dst.Cols(),
		srcSize: src.Rows * src.Cols,
		index:   make([]int, dst.Rows()*dst.Cols()),
	}
	var err error
	if src.Curvilinear {
		err = r.buildCurvilinear(src, dst)
	} else {
		err = r.buildRectilinear(src, dst)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Apply resamples one source variable (row-major, src.Rows×src.Cols).
func (r *Resampler) Apply(values []float64) (*Field, error) {
	if len(values) != r.srcSize {
		return nil, fmt.Errorf("source variable has %d values, grid has %d", len(values), r.srcSize)
	}
	out := NewField(r.rows, r.cols)
	for i, j := range r.index {
		if j < 0 {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = values[j]
	}
	return out, nil
}

// Coverage is the fraction of target cells that found a source cell.
func (r *Resampler) Coverage() float64 {
	n := 0
	for _, j := range r.index {
		if j >= 0 {
			n++
		}
	}
	return float64(n) / float64(len(r.index))
}

func (r *Resampler) buildRectilinear(src SourceGrid, dst *Grid) error {
	lons := make([]float64, len(src.Lon))
	for i, v := range src.Lon {
		lons[i] = NormalizeLongitude(v)
	}
	latAxis, err := newAxis(src.Lat)
	if err != nil {
		return fmt.Errorf("latitude: %w", err)
	}
	lonAxis, err := newAxis(lons)
	if err != nil {
		return fmt.Errorf("longitude: %w", err)
	}

	colIdx := make([]int, dst.Cols())
	for c, lon := range dst.Lon {
		colIdx[c] = lonAxis.nearest(NormalizeLongitude(lon))
	}
	for row, lat := range dst.Lat {
		ri := latAxis.nearest(lat)
		for c, ci := range colIdx {
			i := row*r.cols + c
			if ri < 0 || ci < 0 {
				r.index[i] = -1
				continue
			}
			r.index[i] = ri*src.Cols + ci
		}
	}
	return nil
}

func (r *Resampler) buildCurvilinear(src SourceGrid, dst *Grid) error {
	minLat, maxLat := minMax(dst.Lat)
	dstLon := make([]float64, len(dst.Lon))
	for i, v := range dst.Lon {
		dstLon[i] = NormalizeLongitude(v)
	}
	minLon, maxLon := minMax(dstLon)

	// Longitudes are scaled by cos(lat0) so planar distances approximate
	// great-circle distances over the lake footprint.
	scale := math.Cos((minLat + maxLat) / 2 * math.Pi / 180)

	var tr rtree.RTreeGN[float64, int]
	for i := range src.Lat {
		lat, lon := src.Lat[i], NormalizeLongitude(src.Lon[i])
		if lat < minLat-curvilinearMargin || lat > maxLat+curvilinearMargin ||
			lon < minLon-curvilinearMargin || lon > maxLon+curvilinearMargin {
			continue
		}
		p := [2]float64{lon * scale, lat}
		tr.Insert(p, p, i)
	}
	if tr.Len() == 0 {
		return errors.New("source grid does not cover the target grid")
	}

	maxDist := curvilinearMargin * curvilinearMargin
	for row, lat := range dst.Lat {
		for c, lon := range dstLon {
			target := [2]float64{lon * scale, lat}
			best, bestDist := -1, math.Inf(1)
			tr.Nearby(
				rtree.BoxDist(target, target, func(pt, _ [2]float64, _ int) float64 {
					return sqDist(pt, target)
				}),
				func(pt, _ [2]float64, data int, _ float64) bool {
					best, bestDist = data, sqDist(pt, target)
					return false
				},
			)
			if best < 0 || bestDist > maxDist {
				r.index[row*r.cols+c] = -1
				continue
			}
			r.index[row*r.cols+c] = best
		}
	}
	return nil
}

func sqDist(a, b [2]float64) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}

// NormalizeLongitude maps degrees east onto [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	v := math.Mod(lon+180, 360)
	if v < 0 {
		v += 360
	}
	return v - 180
}

// axis is a monotonic 1-D coordinate.
type axis struct {
	values     []float64
	descending bool
	tolerance  float64
}

func newAxis(values []float64) (axis, error) {
	if len(values) == 0 {
		return axis{}, errors.New("empty coordinate")
	}
	a := axis{values: values, tolerance: math.Inf(1)}
	if len(values) == 1 {
		return a, nil
	}
	a.descending = values[1] < values[0]
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d == 0 || (d < 0) != a.descending {
			return axis{}, fmt.Errorf("coordinate not strictly monotonic at index %d", i)
		}
	}
	a.tolerance = math.Abs(values[1] - values[0])
	return a, nil
}

// nearest returns the index of the closest coordinate, or -1 when v lies
// more than one spacing outside the axis.
func (a axis) nearest(v float64) int {
	n := len(a.values)
	lo, hi := a.values[0], a.values[n-1]
	if a.descending {
		lo, hi = hi, lo
	}
	if v < lo-a.tolerance || v > hi+a.tolerance {
		return -1
	}
	if n == 1 {
		return 0
	}
	var i int
	if a.descending {
		i = sort.Search(n, func(k int) bool { return a.values[k] <= v })
	} else {
		i = sort.Search(n, func(k int) bool { return a.values[k] >= v })
	}
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	}
	if math.Abs(a.values[i]-v) < math.Abs(a.values[i-1]-v) {
		return i
	}
	return i - 1
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
