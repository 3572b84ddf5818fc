package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantopt/weightopt/internal/counterstore"
	"github.com/variantopt/weightopt/internal/datafiles"
	"github.com/variantopt/weightopt/internal/scheduler"
)

func newTestAPI(t *testing.T) (*API, counterstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := counterstore.New(rdb)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.json"), []byte(`{
		"features": {
			"checkout": {
				"variations": [
					{"value": "control", "weight": 50},
					{"value": "treatment", "weight": 50}
				]
			}
		}
	}`), 0o644))
	repo, err := datafiles.NewRepository(datafiles.DirSource{Root: dir})
	require.NoError(t, err)
	require.NoError(t, repo.Reload(context.Background()))

	sched, err := scheduler.New(store, repo, scheduler.Config{UpdateInterval: time.Minute, MinExposuresForUpdate: 100, SamplerTrials: 1000})
	require.NoError(t, err)

	return New(repo, store, sched), store
}

func TestGetDatafileServesOverlay(t *testing.T) {
	ctx := context.Background()
	api, store := newTestAPI(t)
	require.NoError(t, store.SetWeight(ctx, counterstore.Key{Datafile: "features.json", Feature: "checkout", Variant: "control"}, 10, time.Now()))
	require.NoError(t, store.SetWeight(ctx, counterstore.Key{Datafile: "features.json", Feature: "checkout", Variant: "treatment"}, 90, time.Now()))

	r := mux.NewRouter()
	api.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/datafile/features.json", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out))
	features := out["features"].(map[string]interface{})
	checkout := features["checkout"].(map[string]interface{})
	variations := checkout["variations"].([]interface{})
	v0 := variations[0].(map[string]interface{})
	assert.Equal(t, 10.0, v0["weight"])
}

func TestGetDatafileUnknownPathIs404(t *testing.T) {
	api, _ := newTestAPI(t)
	r := mux.NewRouter()
	api.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/datafile/missing.json", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestGetStatsReportsZeroOverZeroAsZero(t *testing.T) {
	ctx := context.Background()
	api, store := newTestAPI(t)
	require.NoError(t, store.IncrConversion(ctx, counterstore.Key{Datafile: "features.json", Feature: "checkout", Variant: "control"}))

	r := mux.NewRouter()
	api.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/stats?datafile=features.json&feature=checkout", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var out statsResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out))
	control := out["features.json"]["checkout"]["control"]
	assert.EqualValues(t, 0, control.Exposures)
	assert.EqualValues(t, 1, control.Conversions)
	assert.Equal(t, 0.0, control.ConversionRate)
}

func TestPostRecalculateReturnsSummary(t *testing.T) {
	api, _ := newTestAPI(t)
	r := mux.NewRouter()
	api.MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/recalculate", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var summary scheduler.CycleSummary
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Considered)
	assert.Len(t, summary.Skipped, 1)
}
