// Package wgrib2 converts GRIB2 artifacts to NetCDF with the wgrib2 tool and
// resamples the result onto a lake grid.
package wgrib2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

const maxStderr = 2048

// Toolchain opens conversion sessions backed by one wgrib2 executable.
type Toolchain struct {
	path   string
	logger *slog.Logger
}

// New creates a toolchain for the wgrib2 binary at path (looked up on PATH
// when it has no separator).
func New(path string, logger *slog.Logger) *Toolchain {
	return &Toolchain{path: path, logger: logger}
}

// CheckReadiness verifies the executable can be found.
func (t *Toolchain) CheckReadiness(_ context.Context) error {
	if _, err := exec.LookPath(t.path); err != nil {
		return fmt.Errorf("wgrib2 not available: %w", err)
	}
	return nil
}

// Open starts a session whose scratch space lives under workDir.
func (t *Toolchain) Open(_ context.Context, workDir string) (domain.Converter, error) {
	id := uuid.NewString()
	dir := filepath.Join(workDir, ".wgrib2-"+id[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Wrap(domain.KindConversion, "open session", err)
	}
	t.logger.Debug("conversion session opened", "session", id, "dir", dir)
	return &Session{
		id:         id,
		dir:        dir,
		tool:       t.path,
		logger:     t.logger,
		resamplers: make(map[string]*domain.Resampler),
	}, nil
}

// Session is one attempt's view of the toolchain. Resamplers are cached per
// source geometry so products sharing a native grid reuse one mapping.
type Session struct {
	id         string
	dir        string
	tool       string
	logger     *slog.Logger
	resamplers map[string]*domain.Resampler
	closed     bool
}

// Convert runs wgrib2 on art, resamples every field onto g, and deletes both
// the raw artifact and the intermediate NetCDF file.
func (s *Session) Convert(ctx context.Context, art domain.RawArtifact, g *domain.Grid) (*domain.Dataset, error) {
	op := fmt.Sprintf("%s/%s", art.Provider, art.Product)
	if s.closed {
		return nil, domain.Errorf(domain.KindConversion, op, "session closed")
	}
	defer os.Remove(art.Path) //nolint:errcheck // consumed either way

	nc := filepath.Join(s.dir, strings.TrimSuffix(filepath.Base(art.Path), ".grib2")+".nc")
	defer os.Remove(nc) //nolint:errcheck // intermediate

	if err := s.run(ctx, art.Path, nc); err != nil {
		return nil, domain.Wrap(domain.KindConversion, op, err)
	}
	src, err := ReadSource(nc)
	if err != nil {
		return nil, domain.Wrap(domain.KindConversion, op, err)
	}
	ds, err := s.resample(src, g)
	if err != nil {
		return nil, domain.Wrap(domain.KindConversion, op, err)
	}
	return ds, nil
}

func (s *Session) run(ctx context.Context, in, out string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.tool, in, "-netcdf", out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg != "" {
			return fmt.Errorf("wgrib2 %s: %w: %s", filepath.Base(in), err, msg)
		}
		return fmt.Errorf("wgrib2 %s: %w", filepath.Base(in), err)
	}
	return nil
}

func (s *Session) resample(src *Source, g *domain.Grid) (*domain.Dataset, error) {
	key := geometryKey(src.Grid, g)
	r, ok := s.resamplers[key]
	if !ok {
		var err error
		r, err = domain.NewResampler(src.Grid, g)
		if err != nil {
			return nil, fmt.Errorf("build resampler: %w", err)
		}
		s.resamplers[key] = r
		s.logger.Debug("resampler built", "session", s.id, "geometry", key, "coverage", r.Coverage())
	}

	ds := domain.NewDataset(g.Rows(), g.Cols())
	for _, v := range src.Vars {
		f, err := r.Apply(v.Values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.Name, err)
		}
		if f.Rows != g.Rows() || f.Cols != g.Cols() {
			return nil, fmt.Errorf("%s: resampled to %dx%d, grid is %dx%d", v.Name, f.Rows, f.Cols, g.Rows(), g.Cols())
		}
		if err := ds.Put(v.Name, f, v.Attrs); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Close removes the session's scratch directory. It is safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.resamplers = nil
	if err := os.RemoveAll(s.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

func geometryKey(src domain.SourceGrid, g *domain.Grid) string {
	n := len(src.Lat) - 1
	m := len(src.Lon) - 1
	return fmt.Sprintf("%s:%dx%d:%t:%s,%s:%s,%s", g.Lake, src.Rows, src.Cols, src.Curvilinear,
		coord(src.Lat[0]), coord(src.Lon[0]), coord(src.Lat[n]), coord(src.Lon[m]))
}

func coord(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.4f", v)
}
