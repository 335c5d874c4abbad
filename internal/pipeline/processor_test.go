package pipeline_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gridRows = 6
	gridCols = 8
)

var requestTime = time.Date(2024, time.January, 10, 12, 30, 0, 0, time.UTC)

// --- mocks ---

type mockGrids struct {
	grid *domain.Grid
}

func (m *mockGrids) Lookup(lake string) (*domain.Grid, error) {
	if lake != m.grid.Lake {
		return nil, domain.Errorf(domain.KindInvalidRequest, "lookup", "unknown lake %q", lake)
	}
	return m.grid, nil
}

type mockAcquirer struct {
	provider domain.Provider
	products []domain.Product
	fails    int // leading calls that fail
	calls    atomic.Int32

	started   chan struct{} // signalled on entry when set
	release   chan struct{} // waited on after started when set
	onAcquire func()
}

func (m *mockAcquirer) Acquire(_ context.Context, req domain.Request, dir string) ([]domain.RawArtifact, error) {
	n := int(m.calls.Add(1))
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
		<-m.release
	}
	if m.onAcquire != nil {
		m.onAcquire()
	}
	var arts []domain.RawArtifact
	for i, p := range m.products {
		path := filepath.Join(dir, string(p)+".grib2")
		if err := os.WriteFile(path, []byte("GRIB"), 0o644); err != nil {
			return nil, err
		}
		if n <= m.fails {
			return nil, domain.Errorf(domain.KindAcquisition, "acquire", "mirror unavailable")
		}
		prov := domain.Provenance{Provider: m.provider, Product: p, ValidTime: domain.RadarValidTime(req, p)}
		if m.provider == domain.ProviderHRRR {
			prov.Lead = i + 1
			prov.ValidTime = req.ModelRun().Add(time.Duration(prov.Lead) * time.Hour)
		}
		arts = append(arts, domain.RawArtifact{Provenance: prov, Path: path})
	}
	return arts, nil
}

func radarAcquirer() *mockAcquirer {
	return &mockAcquirer{provider: domain.ProviderMRMSCloud, products: domain.RadarProducts}
}

func modelAcquirer() *mockAcquirer {
	return &mockAcquirer{
		provider: domain.ProviderHRRR,
		products: []domain.Product{domain.ProductModelInstant, domain.ProductModelAccum},
	}
}

type mockToolchain struct {
	rows   int
	cols   int
	opened atomic.Int32
	closed atomic.Int32
}

func (m *mockToolchain) Open(_ context.Context, _ string) (domain.Converter, error) {
	m.opened.Add(1)
	return &mockConverter{tc: m}, nil
}

type mockConverter struct {
	tc *mockToolchain
}

func (c *mockConverter) Convert(_ context.Context, art domain.RawArtifact, g *domain.Grid) (*domain.Dataset, error) {
	rows, cols := g.Rows(), g.Cols()
	if c.tc.rows > 0 {
		rows, cols = c.tc.rows, c.tc.cols
	}
	ds := domain.NewDataset(rows, cols)
	put := func(name string, v float64) error {
		return ds.Put(name, domain.Filled(rows, cols, v), nil)
	}
	switch art.Product {
	case domain.ProductModelInstant:
		for name, v := range modelValues {
			if err := put(name, v); err != nil {
				return nil, err
			}
		}
	case domain.ProductModelAccum:
		if err := put("APCP_surface", 0.4); err != nil {
			return nil, err
		}
	default:
		native, _, err := domain.RadarVariable(art.Provider, art.Product)
		if err != nil {
			return nil, err
		}
		if err := put(native, 12); err != nil {
			return nil, err
		}
	}
	return ds, os.Remove(art.Path)
}

func (c *mockConverter) Close() error {
	c.tc.closed.Add(1)
	return nil
}

var modelValues = map[string]float64{
	domain.VarTMPSurface:  280,
	domain.VarPRESSurface: 100000,
	domain.VarICECSurface: 0,
	domain.VarCAPESurface: 10,
	"DPT_2maboveground":   279,
	"UGRD_10maboveground": 5,
	"VGRD_10maboveground": -3,
	domain.VarTMP850:      293.15,
	domain.VarDPT850:      291.15,
	domain.VarUGRD850:     10,
	domain.VarVGRD850:     10,
	domain.VarTMP925:      275,
	domain.VarDPT925:      270,
	domain.VarUGRD925:     8,
	domain.VarVGRD925:     4,
}

type mockWriter struct {
	mu      sync.Mutex
	written []*domain.OutputDataset
	err     error
}

func (m *mockWriter) Write(_ context.Context, path string, out *domain.OutputDataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, out)
	return os.WriteFile(path, []byte(strings.Join(out.Names, "\n")), 0o644)
}

func testGrid() *domain.Grid {
	lat := make([]float64, gridRows)
	for i := range lat {
		lat[i] = 42 + 0.03*float64(i)
	}
	lon := make([]float64, gridCols)
	for i := range lon {
		lon[i] = -87.5 + 0.03*float64(i)
	}
	return &domain.Grid{
		Lake: "m",
		Lat:  lat,
		Lon:  lon,
		Static: map[string]*domain.Field{
			domain.LayerLandSea: domain.Filled(gridRows, gridCols, 1),
			domain.LayerSlope:   domain.NewField(gridRows, gridCols),
			domain.LayerAspect:  domain.NewField(gridRows, gridCols),
		},
		Chunk: domain.DefaultChunk("m"),
	}
}

type fixture struct {
	root    string
	radar   *mockAcquirer
	model   *mockAcquirer
	tc      *mockToolchain
	writer  *mockWriter
	metrics *observability.Metrics
	proc    *pipeline.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, t.TempDir())
}

// newFixtureAt builds an independent processor, with its own lock registry,
// on an existing data root.
func newFixtureAt(t *testing.T, root string) *fixture {
	t.Helper()
	f := &fixture{
		root:    root,
		radar:   radarAcquirer(),
		model:   modelAcquirer(),
		tc:      &mockToolchain{},
		writer:  &mockWriter{},
		metrics: newTestMetrics(),
	}
	f.proc = pipeline.NewProcessor(
		pipeline.Layout{Root: f.root},
		pipeline.Stages{
			Grids:     &mockGrids{grid: testGrid()},
			Radar:     f.radar,
			Model:     f.model,
			Toolchain: f.tc,
			Writer:    f.writer,
		},
		domain.Normalizer{ReflectivityFloor: 0},
		pipeline.NewLockRegistry(),
		3,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		f.metrics,
	)
	return f
}

func checksum(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

// --- tests ---

func TestProcessor_Process_HappyPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.proc.Process(context.Background(), requestTime, "m", 0)
	require.NoError(t, err)

	layout := f.proc.Layout()
	assert.Equal(t, "20240110_12m", res.Key)
	assert.Equal(t, layout.OutputPath(res.Key), res.Path)
	assert.Equal(t, 1, res.Attempts)
	assert.FileExists(t, res.Path)
	assert.NoDirExists(t, layout.StagingDir(res.Key))

	require.Len(t, f.writer.written, 1)
	out := f.writer.written[0]
	assert.ElementsMatch(t, domain.OutputVariables, out.Names)
	assert.Equal(t, gridRows, out.Rows)
	assert.Equal(t, gridCols, out.Cols)
	assert.Equal(t, domain.ChunkShape{Rows: gridRows, Cols: gridCols}, out.Chunk)

	assert.Equal(t, int32(1), f.tc.opened.Load())
	assert.Equal(t, int32(1), f.tc.closed.Load())
	assert.Equal(t, 0, f.proc.Locks().Len())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("done")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.RequestsInFlight), 0)
}

func TestProcessor_Process_RetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.radar.fails = 1

	res, err := f.proc.Process(context.Background(), requestTime, "m", 3)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), f.radar.calls.Load())
	assert.Equal(t, int32(2), f.tc.closed.Load())
	assert.NoDirExists(t, f.proc.Layout().StagingDir(res.Key))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AttemptsTotal.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AttemptsTotal.WithLabelValues("success")), 0)
}

func TestProcessor_Process_ExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.model.fails = 10

	res, err := f.proc.Process(context.Background(), requestTime, "m", 2)
	require.Error(t, err)
	assert.Equal(t, domain.KindAcquisition, domain.KindOf(err))
	assert.Equal(t, int32(2), f.model.calls.Load())
	assert.Equal(t, 2, res.Attempts)

	key := "20240110_12m"
	layout := f.proc.Layout()
	assert.NoDirExists(t, layout.StagingDir(key))
	assert.NoDirExists(t, layout.OutputDir(key))
	assert.Empty(t, f.writer.written)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("failed")), 0)
}

func TestProcessor_Process_ExistingOutputConflicts(t *testing.T) {
	f := newFixture(t)

	res, err := f.proc.Process(context.Background(), requestTime, "m", 1)
	require.NoError(t, err)
	before := checksum(t, res.Path)

	// Same hour, different minute: same identity key.
	_, err = f.proc.Process(context.Background(), requestTime.Add(20*time.Minute), "m", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	assert.Equal(t, before, checksum(t, res.Path))
	assert.Len(t, f.writer.written, 1)
	assert.Equal(t, int32(1), f.radar.calls.Load())
}

func TestProcessor_Process_InFlightDuplicateConflicts(t *testing.T) {
	f := newFixture(t)

	unlock, ok := f.proc.Locks().TryLock("20240110_12m")
	require.True(t, ok)
	defer unlock()

	_, err := f.proc.Process(context.Background(), requestTime, "m", 1)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, f.radar.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("conflict")), 0)
}

func TestProcessor_Process_ShapeMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.tc.rows, f.tc.cols = gridRows+1, gridCols

	_, err := f.proc.Process(context.Background(), requestTime, "m", 2)
	require.Error(t, err)
	assert.Equal(t, domain.KindConversion, domain.KindOf(err))
	assert.Empty(t, f.writer.written)
	assert.NoDirExists(t, f.proc.Layout().OutputDir("20240110_12m"))
}

func TestProcessor_Process_WriteFailureCleansOutput(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("disk full")

	_, err := f.proc.Process(context.Background(), requestTime, "m", 1)
	require.Error(t, err)
	assert.Equal(t, domain.KindMerge, domain.KindOf(err))
	assert.NoDirExists(t, f.proc.Layout().OutputDir("20240110_12m"))
}

func TestProcessor_Process_UnknownLakeNotRetried(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(context.Background(), requestTime, "x", 3)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	assert.Zero(t, f.radar.calls.Load())
}

func TestProcessor_Process_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(context.Background(), time.Time{}, "m", 1)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("invalid")), 0)
}

func TestProcessor_Process_RemovesStaleWorkingTree(t *testing.T) {
	f := newFixture(t)
	layout := f.proc.Layout()
	key := "20240110_12m"
	stale := filepath.Join(layout.StagingDir(key), "mrms", "leftover.grib2")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	res, err := f.proc.Process(context.Background(), requestTime, "m", 1)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
	assert.NoFileExists(t, stale)
}

func TestProcessor_Process_CancelledContextStopsRetrying(t *testing.T) {
	f := newFixture(t)
	f.radar.fails = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.proc.Process(ctx, requestTime, "m", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), f.radar.calls.Load())
	assert.Equal(t, 1, res.Attempts)
}

func TestProcessor_Process_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.proc.Process(context.Background(), requestTime, "m", 1)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(errs)-1, conflicts)
	assert.Len(t, f.writer.written, 1)
}

func TestProcessor_Process_SharedRootConflicts(t *testing.T) {
	a := newFixture(t)
	b := newFixtureAt(t, a.root)
	a.radar.started = make(chan struct{}, 1)
	a.radar.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := a.proc.Process(context.Background(), requestTime, "m", 2)
		done <- err
	}()
	<-a.radar.started

	key := "20240110_12m"
	_, err := b.proc.Process(context.Background(), requestTime, "m", 1)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, b.radar.calls.Load())
	assert.DirExists(t, a.proc.Layout().StagingDir(key), "running attempt's tree left alone")
	assert.InDelta(t, 1, testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("conflict")), 0)

	close(a.radar.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), a.radar.calls.Load())
	assert.Len(t, a.writer.written, 1)
	assert.Empty(t, b.writer.written)

	// Once released, the other processor sees the finished output.
	_, err = b.proc.Process(context.Background(), requestTime, "m", 1)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, b.radar.calls.Load())
}

func TestProcessor_Process_KeepsOutputWrittenElsewhere(t *testing.T) {
	f := newFixture(t)
	f.radar.fails = 1
	layout := f.proc.Layout()
	key := "20240110_12m"
	marker := filepath.Join(layout.OutputDir(key), "marker")
	f.radar.onAcquire = func() {
		require.NoError(t, os.MkdirAll(layout.OutputDir(key), 0o755))
		require.NoError(t, os.WriteFile(layout.OutputPath(key), []byte("finished"), 0o644))
		require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))
	}

	res, err := f.proc.Process(context.Background(), requestTime, "m", 3)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), f.radar.calls.Load())
	assert.Empty(t, f.writer.written)

	assert.FileExists(t, marker)
	got, err := os.ReadFile(layout.OutputPath(key))
	require.NoError(t, err)
	assert.Equal(t, "finished", string(got))
	assert.NoDirExists(t, layout.StagingDir(key))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("conflict")), 0)
}
