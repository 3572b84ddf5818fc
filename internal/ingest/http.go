package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// ErrorResponse mirrors the shape every handler in the service writes on
// failure.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

// decodeEvent validates raw against the event schema before decoding it
// into val, so a body with the right JSON shape but a wrong type (e.g.
// "features": "oops") is rejected with a schema error rather than a
// confusing unmarshal error.
func (ing *Ingester) decodeEvent(r io.Reader, val interface{}) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := ing.ValidateRaw(raw); err != nil {
		return err
	}
	return decode(bytes.NewReader(raw), val)
}

// MountRoutes registers POST /expose and POST /convert on r.
func (ing *Ingester) MountRoutes(r *mux.Router) {
	r.HandleFunc("/expose", ing.handleExpose).Methods(http.MethodPost)
	r.HandleFunc("/convert", ing.handleConvert).Methods(http.MethodPost)
}

func (ing *Ingester) handleExpose(rw http.ResponseWriter, r *http.Request) {
	ing.handleEvent(rw, r, Expose)
}

func (ing *Ingester) handleConvert(rw http.ResponseWriter, r *http.Request) {
	ing.handleEvent(rw, r, Convert)
}

func (ing *Ingester) handleEvent(rw http.ResponseWriter, r *http.Request, kind Kind) {
	var ev Event
	if err := ing.decodeEvent(r.Body, &ev); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	if err := ing.Handle(r.Context(), kind, ev); err != nil {
		if ev.Datafile == "" || len(ev.Features) == 0 {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		handleError(err, http.StatusServiceUnavailable, rw)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}
