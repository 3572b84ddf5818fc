package ingest

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

func loadEmbedded(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Opaque)
}

func init() {
	jsonschema.Loaders["ingestfs"] = loadEmbedded
}

func compileEventSchema() (*jsonschema.Schema, error) {
	return jsonschema.Compile("ingestfs:schemas/event.schema.json")
}

// validateEvent checks raw against the event envelope schema before it is
// decoded into an Event, so a malformed body is rejected with the same
// schema-validation error message regardless of transport (HTTP or NATS).
func validateEvent(sch *jsonschema.Schema, raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("ingest: not valid json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("ingest: event failed schema validation: %w", err)
	}
	return nil
}
