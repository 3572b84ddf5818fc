// Package overlay implements the weight overlay (component C3): given a
// parsed datafile and the current counter-store weights, it produces a
// datafile whose variant weights reflect the live optimization state while
// preserving everything else about the document untouched.
package overlay

import (
	"encoding/json"
	"fmt"

	"github.com/variantopt/weightopt/internal/datafiles"
)

// Lookup returns the stored weight for one (feature, variant) pair. ok is
// false when no counter record exists yet or the record has never had a
// weight written, in which case the caller falls back to the original
// on-disk weight.
type Lookup func(feature, variant string) (weight float64, ok bool)

// Apply computes the overlay of tree without mutating it: the result is a
// deep copy with variant weights substituted from lookup and renormalized
// within each feature. Any feature that has no recognizable variant array
// is copied through unchanged.
func Apply(tree datafiles.Tree, lookup Lookup) (datafiles.Tree, error) {
	out, err := deepCopy(tree)
	if err != nil {
		return nil, fmt.Errorf("overlay: copying datafile: %w", err)
	}

	features, ok := datafiles.Features(out)
	if !ok {
		return out, nil
	}

	for featureKey, raw := range features {
		feature, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		arrayKey, arr, ok := datafiles.VariantsArray(feature)
		if !ok || len(arr) == 0 {
			continue
		}
		feature[arrayKey] = applyGroup(featureKey, arr, lookup)
	}

	return out, nil
}

// applyGroup substitutes and renormalizes weights for a single experiment
// group (the variants of one feature in one datafile).
func applyGroup(featureKey string, arr []interface{}, lookup Lookup) []interface{} {
	originals := make([]float64, len(arr))
	substituted := make([]float64, len(arr))
	anyOverridden := false
	originalSum := 0.0

	for i, v := range arr {
		value, hasValue := datafiles.VariantValue(v)
		w, hasWeight := datafiles.VariantWeight(v)
		if !hasWeight {
			w = 0
		}
		originals[i] = w
		originalSum += w

		substituted[i] = w
		if hasValue {
			if stored, ok := lookup(featureKey, value); ok {
				substituted[i] = stored
				anyOverridden = true
			}
		}
	}

	if !anyOverridden {
		return arr
	}

	final := renormalize(substituted, originalSum)

	result := make([]interface{}, len(arr))
	for i, v := range arr {
		result[i] = datafiles.WithWeight(v, final[i])
	}
	return result
}

// renormalize scales weights so their sum equals target, preserving their
// relative proportions. If weights sum to zero, they are returned as-is;
// there is nothing to scale and the group had no signal either way.
func renormalize(weights []float64, target float64) []float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return weights
	}

	scale := target / sum
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w * scale
	}

	// Rounding/scaling residuals are corrected onto the largest weight so
	// the group sum matches target exactly, mirroring the sampler's own
	// residual-correction rule.
	actual := 0.0
	top := 0
	for i, w := range out {
		actual += w
		if out[i] > out[top] {
			top = i
		}
	}
	out[top] += target - actual
	return out
}

func deepCopy(tree datafiles.Tree) (datafiles.Tree, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var out datafiles.Tree
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VariantSet returns the ordered list of variant values for a feature, for
// checking that overlay output preserves the same set and order of variant
// values as the input.
func VariantSet(feature datafiles.Tree) []string {
	_, arr, ok := datafiles.VariantsArray(feature)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(arr))
	for _, v := range arr {
		if val, ok := datafiles.VariantValue(v); ok {
			values = append(values, val)
		}
	}
	return values
}
