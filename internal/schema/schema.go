// Package schema describes function-tool argument shapes as a closed variant
// type and projects them into the provider's strict declarative JSON Schema
// format. Keeping the description language-neutral means any validator can be
// pointed at the projection; runtime enforcement here goes through
// santhosh-tekuri/jsonschema.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a node in the closed description tree. The concrete types below
// are the only implementations.
type Schema interface {
	project() map[string]any
}

// Object declares a strict-mode object: additionalProperties is always false
// and every declared property is required. Optionality must be expressed with
// Optional, which projects to a nullable type rather than an omitted field.
type Object struct {
	Description string
	Properties  map[string]Schema
}

// String declares a free-form string.
type String struct {
	Description string
}

// Number declares a numeric value.
type Number struct {
	Description string
}

// Boolean declares a boolean value.
type Boolean struct {
	Description string
}

// Array declares a homogeneous list.
type Array struct {
	Description string
	Items       Schema
}

// Enum declares a closed set of string values.
type Enum struct {
	Description string
	Values      []string
}

// Literal declares a single fixed string value.
type Literal struct {
	Value string
}

// Union declares a tagged choice between variants (anyOf).
type Union struct {
	Description string
	Variants    []Schema
}

// Optional marks a field as nullable. Strict mode has no concept of omission,
// so the projection keeps the field required and widens it to allow null.
type Optional struct {
	Inner Schema
}

func (o Object) project() map[string]any {
	names := make([]string, 0, len(o.Properties))
	for name := range o.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(map[string]any, len(names))
	for _, name := range names {
		props[name] = o.Properties[name].project()
	}

	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             names,
		"additionalProperties": false,
	}
	if o.Description != "" {
		out["description"] = o.Description
	}
	return out
}

func (s String) project() map[string]any {
	return describe(map[string]any{"type": "string"}, s.Description)
}

func (n Number) project() map[string]any {
	return describe(map[string]any{"type": "number"}, n.Description)
}

func (b Boolean) project() map[string]any {
	return describe(map[string]any{"type": "boolean"}, b.Description)
}

func (a Array) project() map[string]any {
	out := map[string]any{"type": "array"}
	if a.Items != nil {
		out["items"] = a.Items.project()
	}
	return describe(out, a.Description)
}

func (e Enum) project() map[string]any {
	values := e.Values
	if values == nil {
		values = []string{}
	}
	return describe(map[string]any{"type": "string", "enum": values}, e.Description)
}

func (l Literal) project() map[string]any {
	return map[string]any{"type": "string", "const": l.Value}
}

func (u Union) project() map[string]any {
	variants := make([]any, 0, len(u.Variants))
	for _, v := range u.Variants {
		variants = append(variants, v.project())
	}
	return describe(map[string]any{"anyOf": variants}, u.Description)
}

func (o Optional) project() map[string]any {
	inner := o.Inner.project()
	return map[string]any{
		"anyOf": []any{inner, map[string]any{"type": "null"}},
	}
}

func describe(m map[string]any, desc string) map[string]any {
	if desc != "" {
		m["description"] = desc
	}
	return m
}

// Project renders a schema into the provider's declarative tool format.
func Project(s Schema) map[string]any {
	if s == nil {
		return Object{}.project()
	}
	return s.project()
}

// Compile turns a schema into a runtime validator for dispatched arguments.
func Compile(s Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(Project(s))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("tool.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}
