// Package hrrr retrieves HRRR pressure-level subsets by byte range.
package hrrr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/fetch"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

// Downloader is the transfer surface the acquirer needs.
type Downloader interface {
	Get(ctx context.Context, source, url string) ([]byte, error)
	DownloadRanges(ctx context.Context, source, url string, ranges []fetch.ByteRange, dst string) (int64, error)
}

// Subset is one lead time and the records wanted from it.
type Subset struct {
	Lead    int
	Product domain.Product
	Pattern *regexp.Regexp
}

// Subsets are fetched in this order. The accumulation record is requested for
// the 1-2 hour window directly instead of differencing run totals.
var Subsets = []Subset{
	{
		Lead:    1,
		Product: domain.ProductModelInstant,
		Pattern: regexp.MustCompile(`((TMP|DPT|UGRD|VGRD):(850|925))|((UGRD|VGRD):10 m)|((TMP|PRES|CAPE|ICEC):surface)|(DPT:2 m)`),
	},
	{
		Lead:    2,
		Product: domain.ProductModelAccum,
		Pattern: regexp.MustCompile(`:APCP:.*:(1-2)`),
	},
}

// Acquirer fetches model fields for a request.
type Acquirer struct {
	baseURL string
	client  Downloader
	logger  *slog.Logger
}

// NewAcquirer creates an HRRR acquirer rooted at baseURL.
func NewAcquirer(baseURL string, client Downloader, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// FileURL returns the pressure-level file for run and lead.
func FileURL(base string, run time.Time, lead int) string {
	run = run.UTC()
	return fmt.Sprintf("%s/hrrr.%s/conus/hrrr.t%02dz.wrfprsf%02d.grib2",
		strings.TrimRight(base, "/"), run.Format("20060102"), run.Hour(), lead)
}

// Acquire downloads every subset for req into dir, one transfer at a time.
func (a *Acquirer) Acquire(ctx context.Context, req domain.Request, dir string) ([]domain.RawArtifact, error) {
	run := req.ModelRun()
	arts := make([]domain.RawArtifact, 0, len(Subsets))
	for _, s := range Subsets {
		art, err := a.fetchSubset(ctx, run, s, dir)
		if err != nil {
			return nil, domain.Wrap(domain.KindAcquisition, fmt.Sprintf("hrrr f%02d", s.Lead), err)
		}
		arts = append(arts, art)
	}
	return arts, nil
}

func (a *Acquirer) fetchSubset(ctx context.Context, run time.Time, s Subset, dir string) (domain.RawArtifact, error) {
	url := FileURL(a.baseURL, run, s.Lead)
	idx, err := a.client.Get(ctx, string(domain.ProviderHRRR), url+".idx")
	if err != nil {
		return domain.RawArtifact{}, fmt.Errorf("fetch index: %w", err)
	}
	inv, err := ParseInventory(bytes.NewReader(idx))
	if err != nil {
		return domain.RawArtifact{}, fmt.Errorf("parse index: %w", err)
	}
	ranges := inv.Select(s.Pattern)
	if len(ranges) == 0 {
		return domain.RawArtifact{}, fmt.Errorf("no records match %q in %s", s.Pattern, url)
	}

	dst := filepath.Join(dir, filepath.Base(url))
	n, err := a.client.DownloadRanges(ctx, string(domain.ProviderHRRR), url, ranges, dst)
	if err != nil {
		return domain.RawArtifact{}, err
	}
	a.logger.Info("model subset downloaded",
		"run", run.Format(time.RFC3339), "lead", s.Lead, "ranges", len(ranges), "bytes", n)

	return domain.RawArtifact{
		Provenance: domain.Provenance{
			Provider:  domain.ProviderHRRR,
			Product:   s.Product,
			ValidTime: run.Add(time.Duration(s.Lead) * time.Hour),
			Lead:      s.Lead,
		},
		Path: dst,
	}, nil
}
