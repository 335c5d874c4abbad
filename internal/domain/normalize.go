package domain

// Normalizer fixes time metadata, renames native variables to canonical
// names and repairs reflectivity "no echo" encodings.
type Normalizer struct {
	// ReflectivityFloor is the largest reflectivity value treated as no echo.
	ReflectivityFloor float64
}

// Normalize returns a new dataset holding the canonical variables of ds,
// valid at prov.ValidTime.
func (n Normalizer) Normalize(ds *Dataset, prov Provenance) (*Dataset, error) {
	if prov.ValidTime.IsZero() {
		return nil, Errorf(KindNormalization, "normalize", "%s/%s: missing valid time", prov.Provider, prov.Product)
	}
	switch {
	case prov.Product.IsRadar():
		return n.radar(ds, prov)
	case prov.Provider == ProviderHRRR && (prov.Product == ProductModelInstant || prov.Product == ProductModelAccum):
		return n.model(ds, prov)
	}
	return nil, Errorf(KindNormalization, "normalize", "unrecognized provider/product %s/%s", prov.Provider, prov.Product)
}

func (n Normalizer) radar(ds *Dataset, prov Provenance) (*Dataset, error) {
	native, canonical, err := RadarVariable(prov.Provider, prov.Product)
	if err != nil {
		return nil, err
	}
	f, err := ds.Field(native)
	if err != nil {
		return nil, Wrap(KindNormalization, string(prov.Provider)+"/"+string(prov.Product), err)
	}
	if prov.Product == ProductReflectivity {
		f = RepairReflectivity(f, n.ReflectivityFloor)
	}

	out := NewDataset(ds.Rows, ds.Cols)
	out.Time = prov.ValidTime
	if err := out.Put(canonical, f, map[string]string{"units": RadarUnits(canonical)}); err != nil {
		return nil, Wrap(KindNormalization, canonical, err)
	}
	return out, nil
}

func (n Normalizer) model(ds *Dataset, prov Provenance) (*Dataset, error) {
	out := NewDataset(ds.Rows, ds.Cols)
	out.Time = prov.ValidTime
	for _, name := range ds.Names() {
		v, _ := ds.Get(name)
		if err := out.Put(CanonicalModelName(name), v.Field, v.Attrs); err != nil {
			return nil, Wrap(KindNormalization, name, err)
		}
	}
	if out.Len() != ds.Len() {
		return nil, Errorf(KindNormalization, "normalize", "canonical names collide in %s lead %d", prov.Product, prov.Lead)
	}
	if prov.Product == ProductModelAccum && !out.Has(VarQPEModel) {
		return nil, Errorf(KindNormalization, "normalize", "accumulated precipitation missing from lead %d", prov.Lead)
	}
	return out, nil
}

// RepairReflectivity maps every value at or below floor, and every missing
// value, to 0.
func RepairReflectivity(f *Field, floor float64) *Field {
	return f.Map(func(v float64) float64 {
		if v > floor {
			return v
		}
		return 0
	})
}
