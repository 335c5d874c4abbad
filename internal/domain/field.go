package domain

import (
	"fmt"
	"math"
)

// Field is a row-major 2-D array. Row 0 is the first latitude of its grid.
type Field struct {
	Rows int
	Cols int
	Data []float64
}

// NewField allocates a zeroed rows×cols field.
func NewField(rows, cols int) *Field {
	return &Field{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewFieldFrom wraps data as a rows×cols field without copying.
func NewFieldFrom(rows, cols int, data []float64) (*Field, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid field shape %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("field shape %dx%d needs %d values, got %d", rows, cols, rows*cols, len(data))
	}
	return &Field{Rows: rows, Cols: cols, Data: data}, nil
}

// Filled returns a rows×cols field with every cell set to v.
func Filled(rows, cols int, v float64) *Field {
	f := NewField(rows, cols)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func (f *Field) At(r, c int) float64 { return f.Data[r*f.Cols+c] }

func (f *Field) Set(r, c int, v float64) { f.Data[r*f.Cols+c] = v }

// SameShape reports whether o has f's dimensions.
func (f *Field) SameShape(o *Field) bool {
	return f.Rows == o.Rows && f.Cols == o.Cols
}

func (f *Field) Clone() *Field {
	data := make([]float64, len(f.Data))
	copy(data, f.Data)
	return &Field{Rows: f.Rows, Cols: f.Cols, Data: data}
}

// Map returns a new field with fn applied to every cell.
func (f *Field) Map(fn func(float64) float64) *Field {
	out := NewField(f.Rows, f.Cols)
	for i, v := range f.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// Float32 converts the values for storage.
func (f *Field) Float32() []float32 {
	out := make([]float32, len(f.Data))
	for i, v := range f.Data {
		out[i] = float32(v)
	}
	return out
}

// AllNaN reports whether no cell holds a finite value.
func (f *Field) AllNaN() bool {
	for _, v := range f.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
