package datafiles

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
	jsonschema.Loaders["embedfs"] = loadEmbedded
}

func compileSanitySchema() (*jsonschema.Schema, error) {
	return jsonschema.Compile("embedfs:schemas/datafile.schema.json")
}

// validate runs a minimal sanity check: only the top-level "features"
// object is asserted to exist. Anything else about the document is opaque
// and never rejected here.
func validate(sch *jsonschema.Schema, raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("datafiles: not valid json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("datafiles: failed sanity check: %w", err)
	}
	return nil
}
