package domain

import "fmt"

// Output dimension names, row then column.
const (
	DimRow = "y"
	DimCol = "x"
)

// OutputDataset is the final, metadata-free dataset: every variable is a
// row-major float32 array over (y, x) with zero-based integer coordinates.
type OutputDataset struct {
	Rows   int
	Cols   int
	Chunk  ChunkShape
	Names  []string
	Values map[string][]float32
}

// Variable returns the values of a named variable.
func (o *OutputDataset) Variable(name string) ([]float32, bool) {
	v, ok := o.Values[name]
	return v, ok
}

// RowIndex returns the y coordinate values 0..Rows-1.
func (o *OutputDataset) RowIndex() []int32 { return indexRange(o.Rows) }

// ColIndex returns the x coordinate values 0..Cols-1.
func (o *OutputDataset) ColIndex() []int32 { return indexRange(o.Cols) }

func indexRange(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// AssembleBranch unions the normalized datasets of one branch and collapses
// their single-point time axes. Every part must share the same shape.
func AssembleBranch(kind Kind, parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, Errorf(kind, "assemble", "no datasets")
	}
	out := NewDataset(parts[0].Rows, parts[0].Cols)
	for _, p := range parts {
		if err := out.Absorb(p); err != nil {
			return nil, Wrap(kind, "assemble", err)
		}
	}
	return out, nil
}

// AddStaticLayers copies the grid's static layers into ds.
func AddStaticLayers(ds *Dataset, g *Grid) error {
	for _, name := range g.StaticNames() {
		if ds.Has(name) {
			return Errorf(KindDerivation, "static layers", "variable %q already present", name)
		}
		if err := ds.Put(name, g.Static[name], nil); err != nil {
			return Wrap(KindDerivation, "static layers", err)
		}
	}
	return nil
}

// Merge combines the model and radar branches into the output dataset. Both
// must be time-less and share a shape; variable names must not collide.
func Merge(model, radar *Dataset, g *Grid) (*OutputDataset, error) {
	if !model.Timeless() || !radar.Timeless() {
		return nil, Errorf(KindMerge, "merge", "branch datasets still carry a time axis")
	}
	if model.Rows != radar.Rows || model.Cols != radar.Cols {
		return nil, Errorf(KindMerge, "merge", "model dataset is %dx%d, radar dataset is %dx%d",
			model.Rows, model.Cols, radar.Rows, radar.Cols)
	}
	if g != nil && (model.Rows != g.Rows() || model.Cols != g.Cols()) {
		return nil, Errorf(KindMerge, "merge", "datasets are %dx%d, grid %q is %dx%d",
			model.Rows, model.Cols, g.Lake, g.Rows(), g.Cols())
	}

	for _, name := range radar.Names() {
		v, _ := radar.Get(name)
		v.Attrs["units"] = RadarUnits(name)
	}

	out := &OutputDataset{
		Rows:   model.Rows,
		Cols:   model.Cols,
		Values: make(map[string][]float32, model.Len()+radar.Len()),
	}
	if g != nil {
		out.Chunk = g.Chunk.Clamp(out.Rows, out.Cols)
	} else {
		out.Chunk = ChunkShape{}.Clamp(out.Rows, out.Cols)
	}

	for _, ds := range []*Dataset{model, radar} {
		for _, name := range ds.Names() {
			if name == DimRow || name == DimCol {
				return nil, Errorf(KindMerge, "merge", "variable name %q is reserved for a dimension", name)
			}
			if _, dup := out.Values[name]; dup {
				return nil, Errorf(KindMerge, "merge", "variable %q present in both branches", name)
			}
			v, _ := ds.Get(name)
			out.Names = append(out.Names, name)
			out.Values[name] = v.Field.Float32()
		}
	}
	if len(out.Names) == 0 {
		return nil, Errorf(KindMerge, "merge", "no variables to write")
	}
	return out, nil
}

// String summarizes the dataset for logs.
func (o *OutputDataset) String() string {
	return fmt.Sprintf("%dx%d, %d variables, chunk %dx%d", o.Rows, o.Cols, len(o.Names), o.Chunk.Rows, o.Chunk.Cols)
}
