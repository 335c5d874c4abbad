package domain

import "math"

const (
	// epsilon is the ratio of the molecular weights of water and dry air.
	epsilon = 18.015268 / 28.96546
	// kappa is Rd/Cp for dry air.
	kappa = 0.28571428571428570
	// thetaRefPressure is the reference pressure of potential temperature, hPa.
	thetaRefPressure = 1000.0
)

// SaturationVaporPressure returns the saturation vapour pressure in hPa over
// liquid water at temperature tK (Bolton 1980).
func SaturationVaporPressure(tK float64) float64 {
	return 6.112 * math.Exp(17.67*(tK-273.15)/(tK-29.65))
}

// SaturationMixingRatio returns the saturation mixing ratio (kg/kg) at
// pressure pHPa and temperature tK.
func SaturationMixingRatio(pHPa, tK float64) float64 {
	e := SaturationVaporPressure(tK)
	return epsilon * e / (pHPa - e)
}

// EquivalentPotentialTemperature returns θe in kelvin from pressure (hPa),
// temperature (K) and dewpoint (K), following Bolton (1980) eq. 39.
func EquivalentPotentialTemperature(pHPa, tK, tdK float64) float64 {
	e := SaturationVaporPressure(tdK)
	r := SaturationMixingRatio(pHPa, tdK)
	tl := 56 + 1/(1/(tdK-56)+math.Log(tK/tdK)/800)
	thl := tK * math.Pow(thetaRefPressure/(pHPa-e), kappa) * math.Pow(tK/tl, 0.28*r)
	return thl * math.Exp(r*(1+0.448*r)*(3036/tl-1.78))
}
