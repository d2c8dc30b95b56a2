package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a Go struct's tagged fields into the map[string]any
// shape Tool.Schema returns. Tools whose parameters are naturally typed
// use this instead of hand-assembling the schema; tools with only one or
// two ad hoc fields, or enum sets easier to read as a literal, still
// build the map directly.
//
// Supported struct tags:
//   - json:"name,omitempty"           - parameter name, omitempty marks optional
//   - jsonschema:"required"            - explicitly mark as required
//   - jsonschema:"description=..."     - parameter description
//   - jsonschema:"enum=val1,enum=val2" - allowed values, one enum= per value
func SchemaFor(v any) map[string]any {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	s := r.Reflect(v)
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
