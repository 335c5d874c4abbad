package wgrib2

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/ncread"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

var (
	latNames = []string{"latitude", "lat"}
	lonNames = []string{"longitude", "lon"}
)

// coordinate and bookkeeping variables wgrib2 adds alongside the fields.
var skipNames = map[string]bool{
	"latitude": true, "lat": true,
	"longitude": true, "lon": true,
	"time": true, "x": true, "y": true,
}

// Source is a converted file on its native grid.
type Source struct {
	Grid domain.SourceGrid
	Vars []*ncread.Var
}

// ReadSource loads the coordinates and every 2-D field from a wgrib2 NetCDF
// file. A leading single-step time axis is dropped.
func ReadSource(path string) (*Source, error) {
	f, err := ncread.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lat, err := firstVariable(f, latNames)
	if err != nil {
		return nil, err
	}
	lon, err := firstVariable(f, lonNames)
	if err != nil {
		return nil, err
	}

	var grid domain.SourceGrid
	switch {
	case len(lat.Shape) == 1 && len(lon.Shape) == 1:
		grid = domain.SourceGrid{Rows: lat.Shape[0], Cols: lon.Shape[0], Lat: lat.Values, Lon: lon.Values}
	case len(lat.Shape) == 2 && len(lon.Shape) == 2:
		if lat.Shape[0] != lon.Shape[0] || lat.Shape[1] != lon.Shape[1] {
			return nil, fmt.Errorf("latitude %v and longitude %v disagree", lat.Shape, lon.Shape)
		}
		grid = domain.SourceGrid{
			Rows: lat.Shape[0], Cols: lat.Shape[1],
			Lat: lat.Values, Lon: lon.Values, Curvilinear: true,
		}
	default:
		return nil, fmt.Errorf("unsupported coordinate ranks lat=%d lon=%d", len(lat.Shape), len(lon.Shape))
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	src := &Source{Grid: grid}
	for _, name := range f.Names() {
		if skipNames[name] {
			continue
		}
		v, err := f.Variable(name)
		if err != nil {
			return nil, err
		}
		if !onGrid(v, grid) {
			continue
		}
		src.Vars = append(src.Vars, v)
	}
	if len(src.Vars) == 0 {
		return nil, errors.New("no gridded variables")
	}
	return src, nil
}

// onGrid reports whether v is a (time=1, rows, cols) or (rows, cols) field.
func onGrid(v *ncread.Var, g domain.SourceGrid) bool {
	shape := v.Shape
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	return len(shape) == 2 && shape[0] == g.Rows && shape[1] == g.Cols
}

func firstVariable(f *ncread.File, names []string) (*ncread.Var, error) {
	for _, n := range names {
		if f.Has(n) {
			return f.Variable(n)
		}
	}
	return nil, fmt.Errorf("no %s coordinate", names[0])
}
