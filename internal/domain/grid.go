package domain

import (
	"fmt"
	"sort"
)

// Static layer names carried by every grid.
const (
	LayerLandSea = "landsea"
	LayerSlope   = "slope"
	LayerAspect  = "aspect"
)

// ChunkShape is the on-disk chunk size of output variables.
type ChunkShape struct {
	Rows int `mapstructure:"rows"`
	Cols int `mapstructure:"cols"`
}

// Clamp bounds the chunk by the dataset shape. A zero or negative extent
// selects the whole dimension.
func (c ChunkShape) Clamp(rows, cols int) ChunkShape {
	out := c
	if out.Rows <= 0 || out.Rows > rows {
		out.Rows = rows
	}
	if out.Cols <= 0 || out.Cols > cols {
		out.Cols = cols
	}
	return out
}

// Grid is a lake's target grid: a regular latitude/longitude lattice plus
// static layers. Grids are shared between requests and must not be mutated.
type Grid struct {
	Lake   string
	Name   string
	Lat    []float64 // one per row
	Lon    []float64 // one per column, degrees east in [-180, 180)
	Static map[string]*Field
	Chunk  ChunkShape
}

func (g *Grid) Rows() int { return len(g.Lat) }

func (g *Grid) Cols() int { return len(g.Lon) }

// Validate checks that the grid has coordinates and correctly shaped
// landsea, slope and aspect layers.
func (g *Grid) Validate() error {
	if g.Rows() == 0 || g.Cols() == 0 {
		return fmt.Errorf("grid %q: empty coordinates", g.Lake)
	}
	for _, name := range []string{LayerLandSea, LayerSlope, LayerAspect} {
		f, ok := g.Static[name]
		if !ok {
			return fmt.Errorf("grid %q: missing static layer %q", g.Lake, name)
		}
		if f.Rows != g.Rows() || f.Cols != g.Cols() {
			return fmt.Errorf("grid %q: layer %q is %dx%d, grid is %dx%d",
				g.Lake, name, f.Rows, f.Cols, g.Rows(), g.Cols())
		}
	}
	return nil
}

// StaticNames lists the static layers, landsea/slope/aspect first.
func (g *Grid) StaticNames() []string {
	names := make([]string, 0, len(g.Static))
	for _, name := range []string{LayerLandSea, LayerSlope, LayerAspect} {
		if _, ok := g.Static[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range g.Static {
		if name != LayerLandSea && name != LayerSlope && name != LayerAspect {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// DefaultChunk is the chunk shape used when a grid definition names none.
// Lake Michigan is taller than wide; the other lakes are wider than tall.
func DefaultChunk(lake string) ChunkShape {
	if lake == "m" {
		return ChunkShape{Rows: 512, Cols: 256}
	}
	return ChunkShape{Rows: 256, Cols: 512}
}
