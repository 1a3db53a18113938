// Package templates renders the document template with request parameters.
package templates

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// Renderer holds a template compiled once at startup. Execute on a compiled
// pongo2 template does not mutate it, so a Renderer is safe for concurrent use.
type Renderer struct {
	path string
	tpl  *pongo2.Template
}

// Load compiles the template file at path.
func Load(path string) (*Renderer, error) {
	tpl, err := pongo2.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", path, err)
	}
	return &Renderer{path: path, tpl: tpl}, nil
}

// FromString compiles an inline template, mostly for tests.
func FromString(src string) (*Renderer, error) {
	tpl, err := pongo2.FromString(src)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	return &Renderer{path: "<inline>", tpl: tpl}, nil
}

// Path returns where the template was loaded from.
func (r *Renderer) Path() string { return r.path }

// Render executes the template with params as its context.
func (r *Renderer) Render(params map[string]interface{}) (string, error) {
	out, err := r.tpl.Execute(pongo2.Context(params))
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", r.path, err)
	}
	return out, nil
}

// RenderJSON decodes body as a JSON object and renders it. Numbers keep
// their literal form so 3 renders as "3" rather than a float.
func (r *Renderer) RenderJSON(body []byte) (string, error) {
	params, err := DecodeParams(body)
	if err != nil {
		return "", err
	}
	return r.Render(params)
}

// DecodeParams decodes a JSON object, leaving numbers as json.Number.
func DecodeParams(body []byte) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(bytes.TrimSpace(body)) == 0 {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode template parameters: %w", err)
	}
	return params, nil
}
