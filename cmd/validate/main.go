// Command validate checks a produced *_in.nc file: dimension order,
// coordinate indices, the canonical variable set and per-variable shape. It
// also reports variables that hold no finite values.
//
// Usage:
//
//	go run ./cmd/validate -file data/20240110_12m/20240110_12m_in.nc
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/ncread"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "", "path to an output NetCDF file")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*file))
}

func run(path string) int {
	fmt.Printf("=== Output Validation: %s ===\n\n", path)

	f, err := ncread.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	defer f.Close()

	phases, rows, cols := validate(f)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	fmt.Printf("\nGrid: %d rows x %d cols, %d variables\n", rows, cols, len(f.Names()))

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		for _, w := range p.warnings {
			fmt.Printf("  [warn] %s\n", w)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validate runs every phase against f and returns them with the grid shape
// taken from the coordinate variables.
func validate(f *ncread.File) ([]*phase, int, int) {
	coords, rows, cols := validateCoordinates(f)
	vars, loaded := validateVariables(f, rows, cols)
	values := validateValues(loaded)
	return []*phase{coords, vars, values}, rows, cols
}

func validateCoordinates(f *ncread.File) (*phase, int, int) {
	p := &phase{name: "Coordinates (y, x)"}
	size := func(name string) int {
		v, err := f.Variable(name)
		if err != nil {
			p.errorf("coordinate %q: %v", name, err)
			return 0
		}
		if !slices.Equal(v.Dims, []string{name}) {
			p.errorf("coordinate %q has dims %v", name, v.Dims)
		}
		for i, x := range v.Values {
			if x != float64(i) {
				p.errorf("coordinate %q[%d] = %g, want %d", name, i, x, i)
				break
			}
		}
		return len(v.Values)
	}
	rows := size(domain.DimRow)
	cols := size(domain.DimCol)
	return p, rows, cols
}

func validateVariables(f *ncread.File, rows, cols int) (*phase, []*ncread.Var) {
	p := &phase{name: "Canonical variables"}
	want := []string{domain.DimRow, domain.DimCol}

	var loaded []*ncread.Var
	for _, name := range domain.OutputVariables {
		if !f.Has(name) {
			p.errorf("missing variable %q", name)
			continue
		}
		v, err := f.Variable(name)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if !slices.Equal(v.Dims, want) {
			p.errorf("%s: dims %v, want %v", name, v.Dims, want)
		}
		if !slices.Equal(v.Shape, []int{rows, cols}) {
			p.errorf("%s: shape %v, want [%d %d]", name, v.Shape, rows, cols)
		}
		if len(v.Attrs) > 0 {
			p.warnf("%s: carries attributes %v", name, v.Attrs)
		}
		loaded = append(loaded, v)
	}

	for _, name := range f.Names() {
		if name == domain.DimRow || name == domain.DimCol || slices.Contains(domain.OutputVariables, name) {
			continue
		}
		p.warnf("unexpected variable %q", name)
	}
	return p, loaded
}

func validateValues(vars []*ncread.Var) *phase {
	p := &phase{name: "Finite values"}
	for _, v := range vars {
		finite := 0
		for _, x := range v.Values {
			if !math.IsNaN(x) && !math.IsInf(x, 0) {
				finite++
			}
		}
		switch {
		case finite == 0:
			p.warnf("%s: no finite values", v.Name)
		case finite < len(v.Values):
			p.warnf("%s: %d of %d values missing", v.Name, len(v.Values)-finite, len(v.Values))
		}
	}
	return p
}
