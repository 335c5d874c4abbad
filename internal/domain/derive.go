package domain

import (
	"fmt"
	"math"
)

// SmoothingSigma is the Gaussian width, in grid cells, applied to the flow
// indicator and to the 925 mb wind before differentiation.
const SmoothingSigma = 2.0

// Dewpoint offsets below surface temperature, kelvin.
const (
	openWaterDewpointOffset = 0.1
	iceDewpointOffset       = 0.5
)

// thte850Pressure is the fixed pressure of the 850 mb θe, hPa.
const thte850Pressure = 850.0

// intermediateVariables are consumed by DeriveFields and removed afterwards.
var intermediateVariables = []string{
	LayerSlope, LayerAspect, VarDPTSurface, VarUGRD10m, VarVGRD10m, VarPRESSurface,
}

// DeriveFields adds the derived fields to a model dataset in place and drops
// the intermediates they consume. ds must already hold the static layers of g.
func DeriveFields(ds *Dataset, g *Grid) error {
	in, err := derivationInputs(ds)
	if err != nil {
		return err
	}

	tmpMasked := multiply(in[VarTMPSurface], in[LayerLandSea])
	if err := ds.Put(VarTMPMasked, tmpMasked, map[string]string{"units": "K"}); err != nil {
		return Wrap(KindDerivation, VarTMPMasked, err)
	}

	flow := GaussianFilter(terrainFlow(in[LayerSlope], in[LayerAspect], in[VarUGRD10m], in[VarVGRD10m]), SmoothingSigma)
	if err := ds.Put(VarFlow, flow, nil); err != nil {
		return Wrap(KindDerivation, VarFlow, err)
	}

	dpt := SurfaceDewpoint(in[VarTMPSurface], in[VarDPT2m], in[VarICECSurface])

	pres := in[VarPRESSurface]
	if v, _ := ds.Get(VarPRESSurface); v.Attrs["units"] != "hPa" {
		pres = pres.Map(func(p float64) float64 { return p / 100 })
	}
	thteSurface, err := thetaE(pres, in[VarTMPSurface], dpt)
	if err != nil {
		return Wrap(KindDerivation, VarTHTEMasked, err)
	}
	if err := ds.Put(VarTHTEMasked, multiply(thteSurface, in[LayerLandSea]), map[string]string{"units": "K"}); err != nil {
		return Wrap(KindDerivation, VarTHTEMasked, err)
	}

	p850 := Filled(ds.Rows, ds.Cols, thte850Pressure)
	thte850, err := thetaE(p850, in[VarTMP850], in[VarDPT850])
	if err != nil {
		return Wrap(KindDerivation, VarTHTE850, err)
	}
	if err := ds.Put(VarTHTE850, thte850, map[string]string{"units": "K"}); err != nil {
		return Wrap(KindDerivation, VarTHTE850, err)
	}

	if err := deriveKinematics(ds, g, in[VarUGRD925], in[VarVGRD925]); err != nil {
		return err
	}

	ds.Drop(intermediateVariables...)
	return nil
}

func derivationInputs(ds *Dataset) (map[string]*Field, error) {
	names := []string{
		VarTMPSurface, LayerLandSea, LayerSlope, LayerAspect,
		VarUGRD10m, VarVGRD10m, VarICECSurface, VarDPT2m, VarPRESSurface,
		VarTMP850, VarDPT850, VarUGRD925, VarVGRD925,
	}
	in := make(map[string]*Field, len(names))
	for _, name := range names {
		f, err := ds.Field(name)
		if err != nil {
			return nil, Wrap(KindDerivation, "inputs", err)
		}
		in[name] = f
	}
	return in, nil
}

func deriveKinematics(ds *Dataset, g *Grid, u, v *Field) error {
	if u.Rows != g.Rows() || u.Cols != g.Cols() {
		return Errorf(KindDerivation, "kinematics", "wind is %dx%d, grid is %dx%d", u.Rows, u.Cols, g.Rows(), g.Cols())
	}
	deltas, err := LatLonGridDeltas(g.Lat, g.Lon)
	if err != nil {
		return Wrap(KindDerivation, "grid deltas", err)
	}
	us := GaussianFilter(u, SmoothingSigma)
	vs := GaussianFilter(v, SmoothingSigma)

	relv, err := Vorticity(us, vs, deltas)
	if err != nil {
		return Wrap(KindDerivation, VarRELV925, err)
	}
	if err := ds.Put(VarRELV925, relv, map[string]string{"units": "1/s"}); err != nil {
		return Wrap(KindDerivation, VarRELV925, err)
	}
	divg, err := Divergence(us, vs, deltas)
	if err != nil {
		return Wrap(KindDerivation, VarDIVG925, err)
	}
	if err := ds.Put(VarDIVG925, divg, map[string]string{"units": "1/s"}); err != nil {
		return Wrap(KindDerivation, VarDIVG925, err)
	}
	return nil
}

// terrainFlow is -tan(slope)·(u·sin(aspect) + v·cos(aspect)) with slope and
// aspect in degrees.
func terrainFlow(slope, aspect, u, v *Field) *Field {
	out := NewField(slope.Rows, slope.Cols)
	for i := range out.Data {
		s, a := radians(slope.Data[i]), radians(aspect.Data[i])
		out.Data[i] = -math.Tan(s) * (u.Data[i]*math.Sin(a) + v.Data[i]*math.Cos(a))
	}
	return out
}

// SurfaceDewpoint estimates the dewpoint at the lake surface. Open water
// (ice cover exactly 0) uses tmp-0.1; elsewhere the 2 m dewpoint is used.
// Either estimate is clamped to at most tmp minus the cell's offset.
func SurfaceDewpoint(tmp, dpt2m, icec *Field) *Field {
	out := NewField(tmp.Rows, tmp.Cols)
	for i := range out.Data {
		offset, est := iceDewpointOffset, dpt2m.Data[i]
		if icec.Data[i] == 0 {
			offset = openWaterDewpointOffset
			est = tmp.Data[i] - offset
		}
		limit := tmp.Data[i] - offset
		if est > limit {
			est = limit
		}
		out.Data[i] = est
	}
	return out
}

// thetaE computes θe cell by cell. Finite inputs that yield a non-finite
// result are reported; missing inputs stay missing.
func thetaE(p, t, td *Field) (*Field, error) {
	out := NewField(t.Rows, t.Cols)
	for i := range out.Data {
		pi, ti, tdi := p.Data[i], t.Data[i], td.Data[i]
		v := EquivalentPotentialTemperature(pi, ti, tdi)
		if isFinite(pi) && isFinite(ti) && isFinite(tdi) && !isFinite(v) {
			return nil, fmt.Errorf("invalid θe inputs at row %d col %d: p=%g t=%g td=%g",
				i/t.Cols, i%t.Cols, pi, ti, tdi)
		}
		out.Data[i] = v
	}
	return out, nil
}

func multiply(a, b *Field) *Field {
	out := NewField(a.Rows, a.Cols)
	for i := range out.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
