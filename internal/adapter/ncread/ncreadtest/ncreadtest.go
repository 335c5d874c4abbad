// Package ncreadtest writes small classic NetCDF fixtures for tests.
package ncreadtest

import (
	"sort"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Var describes one fixture variable. Values must be a slice (or nested
// slices) matching Dims.
type Var struct {
	Name   string
	Dims   []string
	Values any
	Attrs  map[string]any
}

// WriteFile writes vars to path in the order given.
func WriteFile(t testing.TB, path string, vars ...Var) {
	t.Helper()
	w, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	for _, v := range vars {
		keys := make([]string, 0, len(v.Attrs))
		for k := range v.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs, err := util.NewOrderedMap(keys, v.Attrs)
		if err != nil {
			t.Fatalf("attributes for %s: %v", v.Name, err)
		}
		if err := w.AddVar(v.Name, api.Variable{
			Values:     v.Values,
			Dimensions: v.Dims,
			Attributes: attrs,
		}); err != nil {
			t.Fatalf("add %s: %v", v.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

// Grid2D reshapes row-major values into [rows][cols]float32.
func Grid2D(rows, cols int, values []float64) [][]float32 {
	out := make([][]float32, rows)
	for r := range out {
		out[r] = make([]float32, cols)
		for c := range out[r] {
			out[r][c] = float32(values[r*cols+c])
		}
	}
	return out
}
