package domain

// Canonical radar variable names.
const (
	VarQPEPast      = "QPE_past"
	VarQPETarget    = "QPE_target"
	VarReflectivity = "SHSR_mrms"
)

// Canonical model and derived variable names.
const (
	VarTMPSurface  = "TMP_surface"
	VarPRESSurface = "PRES_surface"
	VarICECSurface = "ICEC_surface"
	VarCAPESurface = "CAPE_surface"
	VarDPT2m       = "DPT_2m"
	VarUGRD10m     = "UGRD_10m"
	VarVGRD10m     = "VGRD_10m"
	VarTMP850      = "TMP_850mb"
	VarDPT850      = "DPT_850mb"
	VarUGRD850     = "UGRD_850mb"
	VarVGRD850     = "VGRD_850mb"
	VarTMP925      = "TMP_925mb"
	VarDPT925      = "DPT_925mb"
	VarUGRD925     = "UGRD_925mb"
	VarVGRD925     = "VGRD_925mb"
	VarQPEModel    = "QPE_hrrr"

	VarTMPMasked  = "TMP_masked"
	VarFlow       = "flow"
	VarDPTSurface = "DPT_surface"
	VarTHTEMasked = "THTE_masked"
	VarTHTE850    = "THTE_850mb"
	VarRELV925    = "RELV_925mb"
	VarDIVG925    = "DIVG_925mb"
)

type radarKey struct {
	provider Provider
	product  Product
}

type radarName struct {
	native    string
	canonical string
}

// radarNames maps each mirror's GRIB2-derived variable name to its canonical
// name. The legacy archive uses one name for both QPE hours.
var radarNames = map[radarKey]radarName{
	{ProviderMRMSArchive, ProductPastQPE}:      {"GaugeCorrQPE01H_0mabovemeansealevel", VarQPEPast},
	{ProviderMRMSArchive, ProductTargetQPE}:    {"GaugeCorrQPE01H_0mabovemeansealevel", VarQPETarget},
	{ProviderMRMSArchive, ProductReflectivity}: {"SeamlessHSR_0mabovemeansealevel", VarReflectivity},
	{ProviderMRMSCloud, ProductPastQPE}:        {"var209_6_30_0mabovemeansealevel", VarQPEPast},
	{ProviderMRMSCloud, ProductTargetQPE}:      {"var209_6_37_0mabovemeansealevel", VarQPETarget},
	{ProviderMRMSCloud, ProductReflectivity}:   {"SeamlessHSR_0mabovemeansealevel", VarReflectivity},
}

// RadarVariable resolves the native and canonical names of a radar product.
func RadarVariable(p Provider, k Product) (native, canonical string, err error) {
	n, ok := radarNames[radarKey{p, k}]
	if !ok {
		return "", "", Errorf(KindNormalization, "radar variable", "unrecognized provider/product %s/%s", p, k)
	}
	return n.native, n.canonical, nil
}

// RadarUnits returns the unit tag of a canonical radar variable.
func RadarUnits(canonical string) string {
	if canonical == VarReflectivity {
		return "dBZ"
	}
	return "mm"
}

// modelNames renames converter output whose level suffix is not canonical.
var modelNames = map[string]string{
	"DPT_2maboveground":   VarDPT2m,
	"UGRD_10maboveground": VarUGRD10m,
	"VGRD_10maboveground": VarVGRD10m,
	"APCP_surface":        VarQPEModel,
}

// CanonicalModelName maps a converted HRRR variable name to its canonical
// name. Names without an entry are already canonical.
func CanonicalModelName(native string) string {
	if c, ok := modelNames[native]; ok {
		return c
	}
	return native
}

// ModelInstantVariables are the canonical names the lead-1 subset provides.
var ModelInstantVariables = []string{
	VarTMP850, VarTMP925, VarDPT850, VarDPT925,
	VarUGRD850, VarUGRD925, VarVGRD850, VarVGRD925,
	VarUGRD10m, VarVGRD10m,
	VarTMPSurface, VarPRESSurface, VarCAPESurface, VarICECSurface,
	VarDPT2m,
}

// OutputVariables is the canonical variable set of a finished dataset,
// excluding static layers other than landsea.
var OutputVariables = []string{
	VarTMP850, VarTMP925, VarDPT850, VarDPT925,
	VarUGRD850, VarUGRD925, VarVGRD850, VarVGRD925,
	VarTMPSurface, VarCAPESurface, VarICECSurface, VarDPT2m,
	VarQPEModel, LayerLandSea,
	VarTMPMasked, VarFlow, VarTHTEMasked, VarTHTE850, VarRELV925, VarDIVG925,
	VarQPEPast, VarQPETarget, VarReflectivity,
}
