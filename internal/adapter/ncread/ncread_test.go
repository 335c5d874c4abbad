package ncread

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	values, shape, err := Flatten([][][]float32{{{1, 2, 3}, {4, 5, 6}}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)

	values, shape, err = Flatten([]int32{7, 8})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, shape)
	assert.Equal(t, []float64{7, 8}, values)

	values, shape, err = Flatten(float64(3.5))
	require.NoError(t, err)
	assert.Empty(t, shape)
	assert.Equal(t, []float64{3.5}, values)
}

func TestFlatten_Errors(t *testing.T) {
	_, _, err := Flatten([][]float64{{1, 2}, {3}})
	assert.Error(t, err, "ragged")

	_, _, err = Flatten([]string{"a"})
	assert.Error(t, err, "non-numeric")

	_, _, err = Flatten(nil)
	assert.Error(t, err)
}

func TestFile_Variable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.nc")
	w, err := cdf.OpenWriter(path)
	require.NoError(t, err)

	attrs, err := util.NewOrderedMap(
		[]string{"units", "_FillValue"},
		map[string]any{"units": "K", "_FillValue": float32(-999)},
	)
	require.NoError(t, err)
	require.NoError(t, w.AddVar("TMP_surface", api.Variable{
		Values:     [][]float32{{280, -999}, {1e21, 282}},
		Dimensions: []string{"latitude", "longitude"},
		Attributes: attrs,
	}))
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, f.Has("TMP_surface"))
	assert.False(t, f.Has("DPT_2m"))

	v, err := f.Variable("TMP_surface")
	require.NoError(t, err)
	assert.Equal(t, []string{"latitude", "longitude"}, v.Dims)
	assert.Equal(t, []int{2, 2}, v.Shape)
	assert.Equal(t, 4, v.Size())
	assert.Equal(t, "K", v.Attr("units"))
	assert.InDelta(t, 280, v.Values[0], 1e-6)
	assert.True(t, math.IsNaN(v.Values[1]), "fill value")
	assert.True(t, math.IsNaN(v.Values[2]), "undefined value")
	assert.InDelta(t, 282, v.Values[3], 1e-6)

	_, err = f.Variable("missing")
	assert.Error(t, err)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.nc"))
	assert.Error(t, err)
}
