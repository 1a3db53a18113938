// Package schema loads the API schema document once at startup and validates
// request payloads against one of its definitions.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"docrender/internal/domain"
)

// Schema is an immutable, fully dereferenced definition compiled for
// validation. It is safe for concurrent use.
type Schema struct {
	name     string
	fragment map[string]interface{}
	compiled *gojsonschema.Schema
}

// Load reads a Swagger 2.0 or OpenAPI 3 document (YAML or JSON) from path and
// compiles the named definition.
func Load(path, definition string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := FromDocument(raw, definition)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// FromDocument compiles the named definition from an in-memory document.
func FromDocument(raw []byte, definition string) (*Schema, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	root, ok := normalize(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document root must be a mapping")
	}

	defs := definitions(root)
	if defs == nil {
		return nil, fmt.Errorf("document has no definitions or components.schemas")
	}
	def, ok := defs[definition]
	if !ok {
		return nil, fmt.Errorf("definition %q not found", definition)
	}

	resolved, err := dereference(root, def, nil)
	if err != nil {
		return nil, err
	}
	fragment, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("definition %q must be a mapping", definition)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(fragment))
	if err != nil {
		return nil, fmt.Errorf("compile definition %q: %w", definition, err)
	}
	return &Schema{name: definition, fragment: fragment, compiled: compiled}, nil
}

// Name returns the definition name the schema was compiled from.
func (s *Schema) Name() string { return s.name }

// Required lists the top-level required properties.
func (s *Schema) Required() []string {
	list, _ := s.fragment["required"].([]interface{})
	out := make([]string, 0, len(list))
	for _, v := range list {
		if name, ok := v.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// Validate checks a JSON body. It returns nil when the body conforms and a
// domain.ClientError listing every violation otherwise. An empty body is
// validated as an empty object.
func (s *Schema) Validate(body []byte) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return domain.NewClientError("Invalid request payload: body is not valid JSON")
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.NewClientError("Invalid request payload: " + err.Error())
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return domain.NewClientError("Invalid request payload: " + strings.Join(violations, ", "))
}

func definitions(root map[string]interface{}) map[string]interface{} {
	if defs, ok := root["definitions"].(map[string]interface{}); ok {
		return defs
	}
	if comps, ok := root["components"].(map[string]interface{}); ok {
		if defs, ok := comps["schemas"].(map[string]interface{}); ok {
			return defs
		}
	}
	return nil
}

// dereference returns a copy of node with every local $ref inlined. stack
// holds the refs currently being expanded so cycles are reported instead of
// recursing forever.
func dereference(root map[string]interface{}, node interface{}, stack []string) (interface{}, error) {
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["$ref"].(string); ok {
			for _, seen := range stack {
				if seen == ref {
					return nil, fmt.Errorf("circular $ref %s", ref)
				}
			}
			target, err := resolvePointer(root, ref)
			if err != nil {
				return nil, err
			}
			return dereference(root, target, append(stack, ref))
		}
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			r, err := dereference(root, child, stack)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			r, err := dereference(root, child, stack)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolvePointer(root map[string]interface{}, ref string) (interface{}, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported $ref %s: only local references are resolved", ref)
	}
	var cur interface{} = root
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unresolvable $ref %s", ref)
		}
		if cur, ok = m[part]; !ok {
			return nil, fmt.Errorf("unresolvable $ref %s", ref)
		}
	}
	return cur, nil
}

// normalize converts yaml mappings with non-string keys into string-keyed
// maps so the result can be handed to the JSON schema compiler.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []interface{}:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}
