// Package gridstore is the read-only registry of lake target grids. Grid
// definitions come from a YAML manifest; each grid's coordinates and static
// layers are read from a NetCDF file the first time the lake is requested.
package gridstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/ncread"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

var (
	latNames = []string{"lat", "latitude", "y"}
	lonNames = []string{"lon", "longitude", "x"}
)

// LakeConfig is one manifest entry.
type LakeConfig struct {
	Name   string             `mapstructure:"name"`
	Static string             `mapstructure:"static"`
	Chunk  *domain.ChunkShape `mapstructure:"chunk"`
}

type manifest struct {
	Lakes map[string]LakeConfig `mapstructure:"lakes"`
}

type entry struct {
	mu   sync.Mutex
	grid *domain.Grid
}

// Store resolves lake codes to grids. It is safe for concurrent use; a grid
// is shared once it has loaded successfully, and a failed load is retried on
// the next lookup.
type Store struct {
	lakes   map[string]LakeConfig
	entries map[string]*entry
	logger  *slog.Logger
}

// Load reads the manifest at path. Relative static paths resolve against the
// manifest's directory.
func Load(path string, logger *slog.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read grid manifest: %w", err)
	}
	var m manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, fmt.Errorf("decode grid manifest: %w", err)
	}
	return New(filepath.Dir(path), m.Lakes, logger)
}

// New builds a store from already-decoded lake entries.
func New(baseDir string, lakes map[string]LakeConfig, logger *slog.Logger) (*Store, error) {
	if len(lakes) == 0 {
		return nil, fmt.Errorf("grid manifest defines no lakes")
	}
	s := &Store{
		lakes:   make(map[string]LakeConfig, len(lakes)),
		entries: make(map[string]*entry, len(lakes)),
		logger:  logger,
	}
	for code, lc := range lakes {
		// viper lower-cases map keys; lake codes are lower case already.
		code = strings.ToLower(code)
		if lc.Static == "" {
			return nil, fmt.Errorf("lake %q: static is required", code)
		}
		if !filepath.IsAbs(lc.Static) {
			lc.Static = filepath.Join(baseDir, lc.Static)
		}
		s.lakes[code] = lc
		s.entries[code] = &entry{}
	}
	return s, nil
}

// Lakes lists the configured lake codes.
func (s *Store) Lakes() []string {
	codes := make([]string, 0, len(s.lakes))
	for code := range s.lakes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the grid for lake. An unknown code is an invalid request.
func (s *Store) Lookup(lake string) (*domain.Grid, error) {
	e, ok := s.entries[lake]
	if !ok {
		return nil, domain.Errorf(domain.KindInvalidRequest, "grid lookup", "unknown lake %q", lake)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid != nil {
		return e.grid, nil
	}
	g, err := s.load(lake, s.lakes[lake])
	if err != nil {
		s.logger.Error("grid load failed", "lake", lake, "error", err)
		return nil, err
	}
	e.grid = g
	s.logger.Info("grid loaded", "lake", lake, "rows", g.Rows(), "cols", g.Cols(),
		"layers", g.StaticNames())
	return g, nil
}

func (s *Store) load(code string, lc LakeConfig) (*domain.Grid, error) {
	f, err := ncread.Open(lc.Static)
	if err != nil {
		return nil, fmt.Errorf("lake %q: %w", code, err)
	}
	defer f.Close()

	lat, err := axis(f, latNames)
	if err != nil {
		return nil, fmt.Errorf("lake %q: %w", code, err)
	}
	lon, err := axis(f, lonNames)
	if err != nil {
		return nil, fmt.Errorf("lake %q: %w", code, err)
	}
	for i, v := range lon {
		lon[i] = domain.NormalizeLongitude(v)
	}

	g := &domain.Grid{
		Lake:   code,
		Name:   lc.Name,
		Lat:    lat,
		Lon:    lon,
		Static: make(map[string]*domain.Field),
		Chunk:  domain.DefaultChunk(code),
	}
	if lc.Chunk != nil {
		g.Chunk = *lc.Chunk
	}

	for _, name := range f.Names() {
		v, err := f.Variable(name)
		if err != nil {
			return nil, fmt.Errorf("lake %q: %w", code, err)
		}
		if len(v.Shape) != 2 || v.Shape[0] != len(lat) || v.Shape[1] != len(lon) {
			continue
		}
		field, err := domain.NewFieldFrom(v.Shape[0], v.Shape[1], v.Values)
		if err != nil {
			return nil, fmt.Errorf("lake %q: layer %q: %w", code, name, err)
		}
		g.Static[name] = field
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func axis(f *ncread.File, names []string) ([]float64, error) {
	for _, n := range names {
		if !f.Has(n) {
			continue
		}
		v, err := f.Variable(n)
		if err != nil {
			return nil, err
		}
		if len(v.Shape) != 1 {
			return nil, fmt.Errorf("coordinate %q must be 1-D, has shape %v", n, v.Shape)
		}
		return v.Values, nil
	}
	return nil, fmt.Errorf("no %s coordinate", names[0])
}
