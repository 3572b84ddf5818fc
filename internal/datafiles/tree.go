package datafiles

// Tree is a datafile, or any sub-object of one, decoded generically so the
// service never needs to know the full schema. Only the
// features.*.variations[*] path is given typed accessors below; every
// other key round-trips through re-serialization untouched.
type Tree = map[string]interface{}

// VariantArrayKeys lists, in priority order, the keys under a feature that
// may hold its variant array. The platform's datafile schema has had more
// than one name for this over time; a future rename only needs an
// addition here, not a change at every call site.
var VariantArrayKeys = []string{"variations", "variants"}

// Features returns the top-level "features" object of a parsed datafile.
func Features(t Tree) (Tree, bool) {
	raw, ok := t["features"]
	if !ok {
		return nil, false
	}
	f, ok := raw.(map[string]interface{})
	return f, ok
}

// VariantsArray finds the variant array within a feature's tree, returning
// which candidate key matched so callers can write the result back under
// the same key.
func VariantsArray(feature Tree) (key string, arr []interface{}, ok bool) {
	for _, candidate := range VariantArrayKeys {
		raw, present := feature[candidate]
		if !present {
			continue
		}
		a, isArr := raw.([]interface{})
		if !isArr {
			continue
		}
		return candidate, a, true
	}
	return "", nil, false
}

// VariantValue reads the "value" field of one variant entry.
func VariantValue(variant interface{}) (string, bool) {
	m, ok := variant.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := m["value"].(string)
	return v, ok
}

// VariantWeight reads the "weight" field of one variant entry. JSON numbers
// decode as float64 via encoding/json's default behavior.
func VariantWeight(variant interface{}) (float64, bool) {
	m, ok := variant.(map[string]interface{})
	if !ok {
		return 0, false
	}
	w, ok := m["weight"].(float64)
	return w, ok
}

// WithWeight returns a shallow copy of variant with its "weight" field
// replaced, leaving every other field (and the original map) untouched.
func WithWeight(variant interface{}, weight float64) interface{} {
	m, ok := variant.(map[string]interface{})
	if !ok {
		return variant
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["weight"] = weight
	return out
}
