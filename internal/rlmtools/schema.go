package rlmtools

import (
	"bytes"
	"encoding/json"
	"fmt"

	genschema "github.com/invopop/jsonschema"
	valschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaFor generates an inline JSON schema from a parameter struct. Tools
// declare parameters as Go structs with jsonschema tags; the generated
// schema doubles as the validation source.
func schemaFor(v any) json.RawMessage {
	r := genschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	s.Version = "" // hosts want a bare parameters object
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("rlmtools: schema generation failed: %v", err))
	}
	return data
}

// validateParams checks raw params against a tool's schema before decoding.
func validateParams(schema json.RawMessage, params json.RawMessage) error {
	compiled, err := valschema.CompileString("params.json", string(schema))
	if err != nil {
		return fmt.Errorf("schema compile: %w", err)
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
