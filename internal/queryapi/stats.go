package queryapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// VariantStats is the leaf of the /stats response tree.
type VariantStats struct {
	Exposures      uint64     `json:"exposures"`
	Conversions    uint64     `json:"conversions"`
	ConversionRate float64    `json:"conversion_rate"`
	Weight         *float64   `json:"weight,omitempty"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

type featureStats map[string]VariantStats
type datafileStats map[string]featureStats
type statsResponse map[string]datafileStats

// getStats builds the response purely from keys present in the store: a
// variant that has never been exposed or converted is omitted entirely
// rather than appearing with zero-valued counters.
func (a *API) getStats(rw http.ResponseWriter, r *http.Request) {
	wantDatafile := r.URL.Query().Get("datafile")
	wantFeature := r.URL.Query().Get("feature")

	keys, err := a.Store.ListKeys(r.Context())
	if err != nil {
		handleError(err, http.StatusServiceUnavailable, rw)
		return
	}

	resp := statsResponse{}
	for _, k := range keys {
		if wantDatafile != "" && k.Datafile != wantDatafile {
			continue
		}
		if wantFeature != "" && k.Feature != wantFeature {
			continue
		}

		counters, err := a.Store.GetCounters(r.Context(), k)
		if err != nil {
			continue
		}

		if _, ok := resp[k.Datafile]; !ok {
			resp[k.Datafile] = datafileStats{}
		}
		if _, ok := resp[k.Datafile][k.Feature]; !ok {
			resp[k.Datafile][k.Feature] = featureStats{}
		}

		resp[k.Datafile][k.Feature][k.Variant] = VariantStats{
			Exposures:      counters.Exposures,
			Conversions:    counters.Conversions,
			ConversionRate: conversionRate(counters.Conversions, counters.Exposures),
			Weight:         counters.Weight,
			LastUpdated:    counters.LastUpdated,
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
}

// conversionRate implements the documented 0/0 = 0 sentinel
func conversionRate(conversions, exposures uint64) float64 {
	if exposures == 0 {
		return 0
	}
	return float64(conversions) / float64(exposures)
}
