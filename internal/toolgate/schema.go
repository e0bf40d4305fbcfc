// ABOUTME: JSON Schema generation for tool arguments and validation of incoming calls.
// ABOUTME: Schemas are reflected from Go structs, compiled once, and arguments decoded with mapstructure.

package toolgate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaFor reflects the JSON Schema for an argument struct.
//
// Supported tags:
//   - json:"name" - argument name
//   - jsonschema:"required" - mark as required
//   - jsonschema:"description=..." - argument description
//   - jsonschema:"enum=a,enum=b" - allowed values
//   - jsonschema:"minimum=N,maximum=M" - numeric bounds
func SchemaFor[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return json.Marshal(m)
}

// compileSchema compiles a tool's input schema for validation.
func compileSchema(name string, schema json.RawMessage) (*sjsonschema.Schema, error) {
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parsing schema for %s: %w", name, err)
	}
	url := name + ".schema.json"
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("adding schema for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", name, err)
	}
	return compiled, nil
}

// parseArgs decodes raw call arguments and validates them against the
// compiled schema. Empty or null arguments are treated as an empty object.
func parseArgs(raw json.RawMessage, validator *sjsonschema.Schema) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	// UnmarshalJSON keeps numbers as json.Number, which the validator requires.
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	args, ok := inst.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object, got %T", inst)
	}
	if validator != nil {
		if err := validator.Validate(inst); err != nil {
			return nil, fmt.Errorf("arguments do not match schema: %w", err)
		}
	}
	return args, nil
}

// DecodeArgs converts validated arguments into a typed struct using its
// json tags.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		),
	})
	if err != nil {
		return out, fmt.Errorf("creating decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return out, fmt.Errorf("decoding arguments: %w", err)
	}
	return out, nil
}
