package domain

import "time"

// Provider identifies a remote data source.
type Provider string

const (
	ProviderHRRR        Provider = "hrrr"
	ProviderMRMSArchive Provider = "mrms-archive"
	ProviderMRMSCloud   Provider = "mrms-cloud"
)

// Product identifies what a raw artifact holds.
type Product string

const (
	ProductModelInstant Product = "model-instant"
	ProductModelAccum   Product = "model-accum"
	ProductPastQPE      Product = "past-qpe"
	ProductTargetQPE    Product = "target-qpe"
	ProductReflectivity Product = "reflectivity"
)

// IsRadar reports whether the product comes from the radar/gauge branch.
func (p Product) IsRadar() bool {
	return p == ProductPastQPE || p == ProductTargetQPE || p == ProductReflectivity
}

// RadarProducts lists the products every radar acquisition must deliver.
var RadarProducts = []Product{ProductPastQPE, ProductReflectivity, ProductTargetQPE}

// DefaultCutover is when MRMS retrieval moves from the legacy archive to the
// cloud bucket.
var DefaultCutover = time.Date(2020, time.October, 15, 0, 0, 0, 0, time.UTC)

// SelectRadarProvider picks the MRMS mirror for a reference time. Times
// strictly before cutover use the legacy archive.
func SelectRadarProvider(t, cutover time.Time) Provider {
	if t.Before(cutover) {
		return ProviderMRMSArchive
	}
	return ProviderMRMSCloud
}

// Provenance tags converted data with where it came from and when it is valid.
type Provenance struct {
	Provider  Provider
	Product   Product
	ValidTime time.Time
	Lead      int // forecast hour; 0 for radar products
}

// RawArtifact is a downloaded GRIB2 file awaiting conversion.
type RawArtifact struct {
	Provenance
	Path string
}

// RadarValidTime returns the valid hour of a radar product for req.
func RadarValidTime(req Request, p Product) time.Time {
	if p == ProductTargetQPE {
		return req.TargetHour()
	}
	return req.Hour()
}
