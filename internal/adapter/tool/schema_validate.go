package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

var reflector = &jsonschema.Reflector{
	Anonymous:                  true,
	DoNotReference:             true,
	RequiredFromJSONSchemaTags: true,
	AllowAdditionalProperties:  true,
}

var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]json.RawMessage{}
)

// paramsSchema reflects the JSON Schema of a tool's parameter struct.
// Field constraints come from `jsonschema` tags and descriptions from
// `jsonschema_description` tags.
func paramsSchema[P any]() json.RawMessage {
	var zero P
	key := fmt.Sprintf("%T", zero)

	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if raw, ok := schemaCache[key]; ok {
		return raw
	}

	s := reflector.Reflect(&zero)
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tool: reflect schema for %s: %v", key, err))
	}
	schemaCache[key] = raw
	return raw
}

// compileSchema compiles a parameter schema for validation. An empty schema
// compiles to nil, which accepts any arguments.
func compileSchema(name string, raw json.RawMessage) (*santhosh.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	url := name + ".schema.json"
	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return compiled, nil
}
