// Package mrms retrieves hourly MRMS precipitation and reflectivity products
// from the legacy archive mirror or the cloud bucket.
package mrms

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

// Downloader fetches a gzip-compressed remote file and writes it decompressed.
type Downloader interface {
	DownloadGzip(ctx context.Context, source, url, dst string) (int64, error)
}

// Mirrors holds the base URLs of both providers and the date that divides them.
type Mirrors struct {
	ArchiveURL string
	CloudURL   string
	Cutover    time.Time
}

// Acquirer fetches the three radar/gauge products for a request.
type Acquirer struct {
	mirrors Mirrors
	client  Downloader
	logger  *slog.Logger
}

// NewAcquirer creates an MRMS acquirer. A zero Cutover takes domain.DefaultCutover.
func NewAcquirer(mirrors Mirrors, client Downloader, logger *slog.Logger) *Acquirer {
	if mirrors.Cutover.IsZero() {
		mirrors.Cutover = domain.DefaultCutover
	}
	mirrors.ArchiveURL = strings.TrimRight(mirrors.ArchiveURL, "/")
	mirrors.CloudURL = strings.TrimRight(mirrors.CloudURL, "/")
	return &Acquirer{mirrors: mirrors, client: client, logger: logger}
}

// Provider returns the mirror that serves req.
func (a *Acquirer) Provider(req domain.Request) domain.Provider {
	return domain.SelectRadarProvider(req.Time, a.mirrors.Cutover)
}

// ProductURL returns the remote location of product p for req from provider.
func (a *Acquirer) ProductURL(provider domain.Provider, req domain.Request, p domain.Product) (string, error) {
	valid := domain.RadarValidTime(req, p)
	stamp := valid.Format("20060102-150405")

	switch provider {
	case domain.ProviderMRMSArchive:
		var product string
		switch p {
		case domain.ProductPastQPE, domain.ProductTargetQPE:
			product = "GaugeCorr_QPE_01H"
		case domain.ProductReflectivity:
			product = "SeamlessHSR"
		default:
			return "", fmt.Errorf("no archive product for %s", p)
		}
		return fmt.Sprintf("%s/%s/mrms/ncep/%s/%s_00.00_%s.grib2.gz",
			a.mirrors.ArchiveURL, valid.Format("2006/01/02"), product, product, stamp), nil

	case domain.ProviderMRMSCloud:
		var product string
		switch p {
		case domain.ProductPastQPE:
			product = "MultiSensor_QPE_01H_Pass1_00.00"
		case domain.ProductTargetQPE:
			product = "MultiSensor_QPE_01H_Pass2_00.00"
		case domain.ProductReflectivity:
			product = "SeamlessHSR_00.00"
		default:
			return "", fmt.Errorf("no cloud product for %s", p)
		}
		return fmt.Sprintf("%s/CONUS/%s/%s/MRMS_%s_%s.grib2.gz",
			a.mirrors.CloudURL, product, valid.Format("20060102"), product, stamp), nil
	}
	return "", fmt.Errorf("unknown radar provider %q", provider)
}

// Acquire downloads and decompresses every radar product for req into dir.
// Any missing product fails the whole acquisition.
func (a *Acquirer) Acquire(ctx context.Context, req domain.Request, dir string) ([]domain.RawArtifact, error) {
	provider := a.Provider(req)
	arts := make([]domain.RawArtifact, 0, len(domain.RadarProducts))
	for _, p := range domain.RadarProducts {
		url, err := a.ProductURL(provider, req, p)
		if err != nil {
			return nil, domain.Wrap(domain.KindAcquisition, string(p), err)
		}
		dst := filepath.Join(dir, stagingName(p))
		n, err := a.client.DownloadGzip(ctx, string(provider), url, dst)
		if err != nil {
			return nil, domain.Wrap(domain.KindAcquisition, string(provider)+" "+string(p), err)
		}
		a.logger.Info("radar product downloaded", "provider", provider, "product", p, "bytes", n)

		arts = append(arts, domain.RawArtifact{
			Provenance: domain.Provenance{
				Provider:  provider,
				Product:   p,
				ValidTime: domain.RadarValidTime(req, p),
			},
			Path: dst,
		})
	}
	return arts, nil
}

func stagingName(p domain.Product) string {
	switch p {
	case domain.ProductPastQPE:
		return domain.VarQPEPast + ".grib2"
	case domain.ProductTargetQPE:
		return domain.VarQPETarget + ".grib2"
	default:
		return domain.VarReflectivity + ".grib2"
	}
}
