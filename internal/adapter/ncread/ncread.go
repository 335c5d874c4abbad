// Package ncread reads NetCDF variables into flat float64 slices using the
// pure-Go decoder, for both classic and NetCDF-4 files.
package ncread

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// wgrib2 writes 9.999e20 for undefined points when no _FillValue is set.
const undefinedValue = 9.999e20

// Var is one decoded variable in row-major order.
type Var struct {
	Name   string
	Dims   []string
	Shape  []int
	Values []float64
	Attrs  map[string]string
}

// Size is the number of values implied by Shape.
func (v *Var) Size() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// Attr returns a string attribute, or "" if unset.
func (v *Var) Attr(name string) string {
	return v.Attrs[name]
}

// File is an open NetCDF file.
type File struct {
	path string
	nc   api.Group
}

// Open opens path for reading.
func Open(path string) (*File, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{path: path, nc: nc}, nil
}

// Close releases the file.
func (f *File) Close() {
	f.nc.Close()
}

// Names lists the variables in file order.
func (f *File) Names() []string {
	return f.nc.ListVariables()
}

// Has reports whether the file defines name.
func (f *File) Has(name string) bool {
	for _, n := range f.nc.ListVariables() {
		if n == name {
			return true
		}
	}
	return false
}

// Variable decodes name. Fill and undefined values become NaN.
func (f *File) Variable(name string) (*Var, error) {
	vr, err := f.nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %q: %w", f.path, name, err)
	}
	values, shape, err := Flatten(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %q: %w", f.path, name, err)
	}

	attrs := make(map[string]string)
	fill, hasFill := math.NaN(), false
	if vr.Attributes != nil {
		for _, k := range vr.Attributes.Keys() {
			val, _ := vr.Attributes.Get(k)
			if k == "_FillValue" || k == "missing_value" {
				if x, ok := toFloat(val); ok {
					fill, hasFill = x, true
				}
				continue
			}
			attrs[k] = attrString(val)
		}
	}
	for i, x := range values {
		if (hasFill && x == fill) || math.Abs(x) >= undefinedValue {
			values[i] = math.NaN()
		}
	}

	return &Var{
		Name:   name,
		Dims:   append([]string(nil), vr.Dimensions...),
		Shape:  shape,
		Values: values,
		Attrs:  attrs,
	}, nil
}

// Flatten converts a decoded value (a scalar or nested slices of any numeric
// type) into row-major float64 values and its shape. Ragged input is an error.
func Flatten(v any) ([]float64, []int, error) {
	if v == nil {
		return nil, nil, errors.New("no values")
	}
	rv := reflect.ValueOf(v)
	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	size := 1
	for _, s := range shape {
		size *= s
	}
	out := make([]float64, 0, size)
	var walk func(reflect.Value, int) error
	walk = func(x reflect.Value, depth int) error {
		if depth < len(shape) {
			if x.Kind() != reflect.Slice || x.Len() != shape[depth] {
				return fmt.Errorf("ragged values at depth %d", depth)
			}
			for i := 0; i < x.Len(); i++ {
				if err := walk(x.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		f, ok := toFloat(x.Interface())
		if !ok {
			return fmt.Errorf("unsupported element type %s", x.Type())
		}
		out = append(out, f)
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []float32:
		if len(x) == 1 {
			return float64(x[0]), true
		}
	case []float64:
		if len(x) == 1 {
			return x[0], true
		}
	}
	return 0, false
}

func attrString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
