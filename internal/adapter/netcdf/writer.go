// Package netcdf writes output datasets as chunked NetCDF-4 files through
// libnetcdf.
package netcdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

// ErrExists is returned when the destination already holds a file.
var ErrExists = errors.New("output file already exists")

// Writer persists output datasets. Files are written under a temporary name
// and linked into place, so a destination is never overwritten and never
// observed half-written.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write stores out at path.
func (w *Writer) Write(ctx context.Context, path string, out *domain.OutputDataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}

	tmp := path + ".partial"
	os.Remove(tmp) //nolint:errcheck // stale partial from a crashed attempt
	if err := writeFile(tmp, out); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return err
	}
	defer os.Remove(tmp) //nolint:errcheck // the link below is the durable name

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("link output: %w", err)
	}
	w.logger.Debug("output written", "path", path, "dataset", out.String())
	return nil
}

func writeFile(path string, out *domain.OutputDataset) (err error) {
	ds, err := netcdf.CreateFile(path, netcdf.NOCLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	yDim, err := ds.AddDim(domain.DimRow, uint64(out.Rows))
	if err != nil {
		return fmt.Errorf("add dimension %s: %w", domain.DimRow, err)
	}
	xDim, err := ds.AddDim(domain.DimCol, uint64(out.Cols))
	if err != nil {
		return fmt.Errorf("add dimension %s: %w", domain.DimCol, err)
	}

	yVar, err := ds.AddVar(domain.DimRow, netcdf.INT, []netcdf.Dim{yDim})
	if err != nil {
		return fmt.Errorf("add coordinate %s: %w", domain.DimRow, err)
	}
	xVar, err := ds.AddVar(domain.DimCol, netcdf.INT, []netcdf.Dim{xDim})
	if err != nil {
		return fmt.Errorf("add coordinate %s: %w", domain.DimCol, err)
	}

	chunk := out.Chunk.Clamp(out.Rows, out.Cols)
	vars := make([]netcdf.Var, len(out.Names))
	for i, name := range out.Names {
		v, err := ds.AddVar(name, netcdf.FLOAT, []netcdf.Dim{yDim, xDim})
		if err != nil {
			return fmt.Errorf("add variable %s: %w", name, err)
		}
		if err := defineChunking(ds, name, chunk); err != nil {
			return fmt.Errorf("chunk variable %s: %w", name, err)
		}
		vars[i] = v
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("end define mode: %w", err)
	}

	if err := yVar.WriteInt32s(out.RowIndex()); err != nil {
		return fmt.Errorf("write %s: %w", domain.DimRow, err)
	}
	if err := xVar.WriteInt32s(out.ColIndex()); err != nil {
		return fmt.Errorf("write %s: %w", domain.DimCol, err)
	}
	for i, name := range out.Names {
		values := out.Values[name]
		if len(values) != out.Rows*out.Cols {
			return fmt.Errorf("variable %s has %d values, want %d", name, len(values), out.Rows*out.Cols)
		}
		if err := vars[i].WriteFloat32s(values); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
