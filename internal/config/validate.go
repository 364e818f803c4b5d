// Package config loads and validates the store's startup configuration.
package config

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/embeddedts/tstore/internal/tslog"
)

// Validate compiles schema and checks instance against it, terminating the
// process via tslog.Fatalf on any violation. Intended for startup only.
func Validate(schema string, instance json.RawMessage) {
	sch, err := jsonschema.CompileString("schema.json", schema)
	if err != nil {
		tslog.Fatalf("%#v", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		tslog.Fatal(err)
	}

	if err := sch.Validate(v); err != nil {
		tslog.Fatalf("%#v", err)
	}
}
