package domain

import (
	"fmt"
	"time"
)

// Variable is a named field with free-form metadata.
type Variable struct {
	Name  string
	Field *Field
	Attrs map[string]string
}

// Dataset is an ordered set of same-shaped variables. Time is the single
// valid time of the data, zero once the dataset is time-less.
type Dataset struct {
	Rows  int
	Cols  int
	Time  time.Time
	vars  map[string]*Variable
	order []string
}

func NewDataset(rows, cols int) *Dataset {
	return &Dataset{Rows: rows, Cols: cols, vars: make(map[string]*Variable)}
}

// Put adds or replaces a variable. Replacing keeps the original position.
func (d *Dataset) Put(name string, f *Field, attrs map[string]string) error {
	if f.Rows != d.Rows || f.Cols != d.Cols {
		return fmt.Errorf("variable %q is %dx%d, dataset is %dx%d", name, f.Rows, f.Cols, d.Rows, d.Cols)
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	if _, ok := d.vars[name]; !ok {
		d.order = append(d.order, name)
	}
	d.vars[name] = &Variable{Name: name, Field: f, Attrs: attrs}
	return nil
}

func (d *Dataset) Get(name string) (*Variable, bool) {
	v, ok := d.vars[name]
	return v, ok
}

// Field returns the named field or an error naming the missing variable.
func (d *Dataset) Field(name string) (*Field, error) {
	v, ok := d.vars[name]
	if !ok {
		return nil, fmt.Errorf("missing variable %q", name)
	}
	return v.Field, nil
}

func (d *Dataset) Has(name string) bool {
	_, ok := d.vars[name]
	return ok
}

// Names returns the variable names in insertion order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Dataset) Len() int { return len(d.order) }

// Drop removes the named variables; unknown names are ignored.
func (d *Dataset) Drop(names ...string) {
	for _, name := range names {
		if _, ok := d.vars[name]; !ok {
			continue
		}
		delete(d.vars, name)
		for i, n := range d.order {
			if n == name {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
}

// Rename changes a variable's name in place.
func (d *Dataset) Rename(from, to string) error {
	if from == to {
		return nil
	}
	v, ok := d.vars[from]
	if !ok {
		return fmt.Errorf("missing variable %q", from)
	}
	if _, exists := d.vars[to]; exists {
		return fmt.Errorf("variable %q already exists", to)
	}
	delete(d.vars, from)
	v.Name = to
	d.vars[to] = v
	for i, n := range d.order {
		if n == from {
			d.order[i] = to
			break
		}
	}
	return nil
}

// Absorb appends every variable of o. Name collisions are errors.
func (d *Dataset) Absorb(o *Dataset) error {
	if o.Rows != d.Rows || o.Cols != d.Cols {
		return fmt.Errorf("dataset shapes differ: %dx%d vs %dx%d", d.Rows, d.Cols, o.Rows, o.Cols)
	}
	for _, name := range o.order {
		if d.Has(name) {
			return fmt.Errorf("variable %q present in both datasets", name)
		}
	}
	for _, name := range o.order {
		v := o.vars[name]
		if err := d.Put(name, v.Field, v.Attrs); err != nil {
			return err
		}
	}
	return nil
}

// Timeless reports whether the time axis has been collapsed.
func (d *Dataset) Timeless() bool { return d.Time.IsZero() }
