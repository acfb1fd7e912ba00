package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against JSON Schemas before any decoding
// into typed structs, so a malformed request is rejected as a unit with
// MalformedRequest rather than half-interpreted.

const initSchemaJSON = `{
	"type": "object",
	"required": ["token"],
	"additionalProperties": false,
	"properties": {
		"token": {"type": "string", "minLength": 1}
	}
}`

const tagSchemaJSON = `{
	"type": "object",
	"required": ["itemKey"],
	"additionalProperties": false,
	"properties": {
		"itemKey": {"type": "string", "minLength": 1},
		"add": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"remove": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"batchId": {"type": "string"}
	}
}`

const noteSchemaJSON = `{
	"type": "object",
	"required": ["itemKey", "content", "mode"],
	"additionalProperties": false,
	"properties": {
		"itemKey": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"mode": {"enum": ["upsert", "replace"]},
		"marker": {"type": "string"}
	}
}`

type requestSchemas struct {
	init *jsonschema.Schema
	tag  *jsonschema.Schema
	note *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
		// validator requires.
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", name, err)
		}
		schema, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return schema, nil
	}

	var s requestSchemas
	var err error
	if s.init, err = compile("init", initSchemaJSON); err != nil {
		return nil, err
	}
	if s.tag, err = compile("tag", tagSchemaJSON); err != nil {
		return nil, err
	}
	if s.note, err = compile("note", noteSchemaJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeValidated checks raw against schema and, on success, unmarshals it
// into out.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("parse body: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
