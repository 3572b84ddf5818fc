// Package queryapi implements the query surface (component C7): serving
// the rewritten (overlayed) datafiles, the raw counter statistics, and the
// manual recalculation trigger.
package queryapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/variantopt/weightopt/internal/counterstore"
	"github.com/variantopt/weightopt/internal/datafiles"
	"github.com/variantopt/weightopt/internal/overlay"
	"github.com/variantopt/weightopt/internal/scheduler"
	"github.com/variantopt/weightopt/pkg/log"
)

// ErrorResponse mirrors the error envelope the ingest surface also writes,
// so every HTTP error in the service looks the same to a client.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	log.Warnf("queryapi: %s", err)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

// API wires the datafile repository, the counter store, and the scheduler
// together behind an HTTP mux.
type API struct {
	Repo      *datafiles.Repository
	Store     counterstore.Store
	Scheduler *scheduler.Scheduler
}

func New(repo *datafiles.Repository, store counterstore.Store, sched *scheduler.Scheduler) *API {
	return &API{Repo: repo, Store: store, Scheduler: sched}
}

// MountRoutes registers every C7 endpoint plus the operational
// enrichments (/healthz, /metrics) on r.
func (a *API) MountRoutes(r *mux.Router) {
	r.HandleFunc("/datafile/{path:.*}", a.getDatafile).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.getStats).Methods(http.MethodGet)
	r.HandleFunc("/recalculate", a.postRecalculate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", a.getHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (a *API) getDatafile(rw http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	df, err := a.Repo.Get(path)
	if err != nil {
		if errors.Is(err, datafiles.ErrNotFound) {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		handleError(err, http.StatusInternalServerError, rw)
		return
	}

	lookup := a.weightLookup(r.Context(), path)
	out, err := overlay.Apply(df.Tree, lookup)
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(out); err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
}

// weightLookup reads a single variant's stored weight at a time, falling
// back to "not overridden" on any store error so overlay computation never
// fails to serve a datafile.
func (a *API) weightLookup(ctx context.Context, path string) overlay.Lookup {
	return func(feature, variant string) (float64, bool) {
		k := counterstore.Key{Datafile: path, Feature: feature, Variant: variant}
		counters, err := a.Store.GetCounters(ctx, k)
		if err != nil || counters.Weight == nil {
			return 0, false
		}
		return *counters.Weight, true
	}
}

func (a *API) postRecalculate(rw http.ResponseWriter, r *http.Request) {
	summary := a.Scheduler.RunCycle(r.Context())

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(summary)
}

func (a *API) getHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}
