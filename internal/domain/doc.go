// Package domain models the lake forcing dataset: one analysis-ready grid per
// (hour, lake) request combining High-Resolution Rapid Refresh (HRRR) model
// fields with Multi-Radar/Multi-Sensor (MRMS) precipitation and reflectivity.
//
// # Requests and identity keys
//
// A request names a reference hour and a lake code. Its identity key is the
// UTC hour formatted as "20060102_15" followed by the lake code:
//
//	2024-01-10T12:00Z, lake "m"  →  "20240110_12m"
//
// The key names the request's staging directory ({data}/original/{key}) and
// its output file ({data}/{key}/{key}_in.nc).
//
// # Sources
//
// HRRR:
//
//	The "prs" (pressure level) product of the run initialized one hour before
//	the reference hour. Lead 1 supplies the instantaneous fields (850/925 mb
//	temperature, dewpoint and wind, 10 m wind, surface pressure, temperature,
//	CAPE and ice cover, 2 m dewpoint). Lead 2 supplies the 1-2 hour
//	accumulated precipitation, which is the precipitation of the target hour.
//
// MRMS:
//
//	Three hourly products per request: gauge-corrected QPE for the hour ending
//	at the reference hour ("past"), the same product for the following hour
//	("target"), and seamless hybrid-scan reflectivity for the reference hour.
//	Before 2020-10-15T00:00Z the products come from the Iowa Environmental
//	Mesonet archive, afterwards from the NOAA open-data bucket. The two mirrors
//	encode the same quantities under different GRIB2 names, see [RadarVariable].
//
// Reflectivity:
//
//	"No echo" is encoded as negative sentinels by one mirror and as missing by
//	the other. Every value at or below the configured floor becomes 0.
//
// # Grids
//
// Every source field is resampled by nearest neighbour onto the lake's target
// grid (a regular latitude/longitude lattice) before any arithmetic. The grid
// carries the static layers used by the derived fields:
//
//	landsea  land/sea mask (1 over land)
//	slope    terrain slope, degrees
//	aspect   terrain aspect, degrees clockwise from north
//
// # Derived fields
//
//	TMP_masked   TMP_surface × landsea
//	flow         -tan(slope)·(u10·sin(aspect) + v10·cos(aspect)), Gaussian σ=2
//	THTE_masked  θe(PRES_surface, TMP_surface, surface dewpoint) × landsea
//	THTE_850mb   θe(850 hPa, TMP_850mb, DPT_850mb)
//	RELV_925mb   relative vorticity of the σ=2 smoothed 925 mb wind
//	DIVG_925mb   divergence of the σ=2 smoothed 925 mb wind
//
// The surface dewpoint is TMP_surface-0.1 K over open water and DPT_2m over
// ice, clamped to at most TMP_surface minus 0.1 K (open water) or 0.5 K (ice).
//
// # Output
//
// The output dataset has dimensions (y, x) with zero-based integer
// coordinates and one float32 variable per canonical name. Chunk shapes come
// from the grid definition.
package domain
