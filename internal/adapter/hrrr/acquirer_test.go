package hrrr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/fetch"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

const testBase = "https://hrrr.example.com"

// --- mocks ---

type mockDownloader struct {
	indexes map[string]string
	getErr  error
	dlErr   error
	gets    []string
	ranges  map[string][]fetch.ByteRange
	dsts    []string
}

func (m *mockDownloader) Get(_ context.Context, _, url string) ([]byte, error) {
	m.gets = append(m.gets, url)
	if m.getErr != nil {
		return nil, m.getErr
	}
	idx, ok := m.indexes[url]
	if !ok {
		return nil, &fetch.StatusError{URL: url, Code: 404}
	}
	return []byte(idx), nil
}

func (m *mockDownloader) DownloadRanges(_ context.Context, _, url string, ranges []fetch.ByteRange, dst string) (int64, error) {
	if m.dlErr != nil {
		return 0, m.dlErr
	}
	if m.ranges == nil {
		m.ranges = make(map[string][]fetch.ByteRange)
	}
	m.ranges[url] = ranges
	m.dsts = append(m.dsts, dst)
	return 42, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest(t *testing.T) domain.Request {
	t.Helper()
	req, err := domain.NewRequest(time.Date(2024, 1, 10, 12, 30, 0, 0, time.UTC), "m")
	require.NoError(t, err)
	return req
}

func TestFileURL(t *testing.T) {
	run := time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)
	assert.Equal(t,
		"https://hrrr.example.com/hrrr.20240110/conus/hrrr.t11z.wrfprsf02.grib2",
		FileURL(testBase+"/", run, 2))
}

func TestAcquire(t *testing.T) {
	f01 := testBase + "/hrrr.20240110/conus/hrrr.t11z.wrfprsf01.grib2"
	f02 := testBase + "/hrrr.20240110/conus/hrrr.t11z.wrfprsf02.grib2"
	dl := &mockDownloader{indexes: map[string]string{
		f01 + ".idx": sampleF01,
		f02 + ".idx": sampleF02,
	}}
	dir := t.TempDir()

	arts, err := NewAcquirer(testBase, dl, discardLogger()).Acquire(context.Background(), testRequest(t), dir)
	require.NoError(t, err)
	require.Len(t, arts, 2)

	assert.Equal(t, []string{f01 + ".idx", f02 + ".idx"}, dl.gets)
	assert.Len(t, dl.ranges[f01], 2)
	assert.Equal(t, []fetch.ByteRange{{Start: 600, End: 899}}, dl.ranges[f02])

	assert.Equal(t, domain.ProductModelInstant, arts[0].Product)
	assert.Equal(t, domain.ProviderHRRR, arts[0].Provider)
	assert.Equal(t, 1, arts[0].Lead)
	assert.Equal(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), arts[0].ValidTime)
	assert.Equal(t, filepath.Join(dir, "hrrr.t11z.wrfprsf01.grib2"), arts[0].Path)

	assert.Equal(t, domain.ProductModelAccum, arts[1].Product)
	assert.Equal(t, 2, arts[1].Lead)
	assert.Equal(t, time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC), arts[1].ValidTime)
}

func TestAcquire_MissingIndexIsAcquisitionError(t *testing.T) {
	dl := &mockDownloader{indexes: map[string]string{}}

	_, err := NewAcquirer(testBase, dl, discardLogger()).Acquire(context.Background(), testRequest(t), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, domain.KindAcquisition, domain.KindOf(err))
	assert.True(t, fetch.IsNotFound(err))
}

func TestAcquire_NoMatchingRecords(t *testing.T) {
	f01 := testBase + "/hrrr.20240110/conus/hrrr.t11z.wrfprsf01.grib2"
	dl := &mockDownloader{indexes: map[string]string{
		f01 + ".idx": "1:0:d=2024011011:REFC:entire atmosphere:1 hour fcst:\n",
	}}

	_, err := NewAcquirer(testBase, dl, discardLogger()).Acquire(context.Background(), testRequest(t), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, domain.KindAcquisition, domain.KindOf(err))
	assert.Empty(t, dl.dsts)
}

func TestAcquire_DownloadFailure(t *testing.T) {
	f01 := testBase + "/hrrr.20240110/conus/hrrr.t11z.wrfprsf01.grib2"
	dl := &mockDownloader{
		indexes: map[string]string{f01 + ".idx": sampleF01},
		dlErr:   errors.New("connection reset"),
	}

	_, err := NewAcquirer(testBase, dl, discardLogger()).Acquire(context.Background(), testRequest(t), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, domain.KindAcquisition, domain.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}
