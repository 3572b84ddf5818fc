// Package ingest implements the event ingest surface (component C6): it
// resolves expose/convert events to counter keys and forwards atomic
// increments to the counter store. It does not validate that the named
// feature or variant actually exists in any loaded datafile: unknown keys
// still increment.
package ingest

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/variantopt/weightopt/internal/counterstore"
	"github.com/variantopt/weightopt/pkg/log"
)

// Kind distinguishes the two event shapes C6 accepts.
type Kind int

const (
	Expose Kind = iota
	Convert
)

func (k Kind) String() string {
	if k == Expose {
		return "expose"
	}
	return "convert"
}

// Event is the common shape of both `expose` and `convert` bodies: a
// datafile path and a map of featureKey -> the variant value the caller
// observed.
type Event struct {
	Datafile string            `json:"datafile"`
	Features map[string]string `json:"features"`
}

// Ingester is the shared entry point for every transport (HTTP, and
// optionally NATS) C6 exposes. One Handle call fans an event's feature map
// out into one store increment per pair.
type Ingester struct {
	Store  counterstore.Store
	schema *jsonschema.Schema
}

func New(store counterstore.Store) (*Ingester, error) {
	sch, err := compileEventSchema()
	if err != nil {
		return nil, fmt.Errorf("ingest: compiling event schema: %w", err)
	}
	return &Ingester{Store: store, schema: sch}, nil
}

// ValidateRaw checks a raw event body against the event envelope schema
// before it is decoded. Both the HTTP and NATS transports call this first
// so a malformed body is rejected the same way regardless of how it
// arrived.
func (ing *Ingester) ValidateRaw(raw []byte) error {
	return validateEvent(ing.schema, raw)
}

// Handle increments one counter per (featureKey, variantValue) pair in the
// event. It stops at the first store error: increments never retry, so a
// partial failure is surfaced to the caller rather than silently
// swallowed, and it's up to the caller whether to treat the event as
// failed.
func (ing *Ingester) Handle(ctx context.Context, kind Kind, ev Event) error {
	if ev.Datafile == "" {
		return fmt.Errorf("ingest: missing datafile")
	}
	if len(ev.Features) == 0 {
		return fmt.Errorf("ingest: missing features")
	}

	for feature, variant := range ev.Features {
		k := counterstore.Key{Datafile: ev.Datafile, Feature: feature, Variant: variant}
		var err error
		switch kind {
		case Expose:
			err = ing.Store.IncrExposure(ctx, k)
		case Convert:
			err = ing.Store.IncrConversion(ctx, k)
		}
		if err != nil {
			return fmt.Errorf("ingest: %s increment for %s/%s/%s: %w", kind, ev.Datafile, feature, variant, err)
		}
	}

	log.Debugf("ingest: %s datafile=%s features=%d", kind, ev.Datafile, len(ev.Features))
	return nil
}
