package schema

import (
	"reflect"
	"testing"
)

func TestProject_StrictObject(t *testing.T) {
	s := Object{
		Description: "transfer request",
		Properties: map[string]Schema{
			"department": Enum{Values: []string{"Financeiro", "Suporte"}},
			"note":       Optional{Inner: String{}},
		},
	}

	got := Project(s)

	if got["type"] != "object" {
		t.Errorf("type = %v, want object", got["type"])
	}
	if got["additionalProperties"] != false {
		t.Error("strict objects must set additionalProperties:false")
	}
	required, ok := got["required"].([]string)
	if !ok {
		t.Fatalf("required has type %T", got["required"])
	}
	// Every property must be listed, optionals included.
	if !reflect.DeepEqual(required, []string{"department", "note"}) {
		t.Errorf("required = %v", required)
	}
}

func TestProject_OptionalBecomesNullable(t *testing.T) {
	got := Project(Optional{Inner: String{}})

	anyOf, ok := got["anyOf"].([]any)
	if !ok || len(anyOf) != 2 {
		t.Fatalf("anyOf = %v", got["anyOf"])
	}
	inner := anyOf[0].(map[string]any)
	if inner["type"] != "string" {
		t.Errorf("inner type = %v", inner["type"])
	}
	null := anyOf[1].(map[string]any)
	if null["type"] != "null" {
		t.Errorf("null branch = %v", null)
	}
}

func TestProject_EnumLiteralUnion(t *testing.T) {
	enum := Project(Enum{Values: []string{"a", "b"}})
	if !reflect.DeepEqual(enum["enum"], []string{"a", "b"}) {
		t.Errorf("enum = %v", enum["enum"])
	}

	lit := Project(Literal{Value: "fixed"})
	if lit["const"] != "fixed" {
		t.Errorf("const = %v", lit["const"])
	}

	union := Project(Union{Variants: []Schema{String{}, Number{}}})
	if len(union["anyOf"].([]any)) != 2 {
		t.Errorf("anyOf = %v", union["anyOf"])
	}
}

func TestProject_NestedArray(t *testing.T) {
	got := Project(Array{Items: Object{Properties: map[string]Schema{
		"n": Number{},
	}}})

	items := got["items"].(map[string]any)
	if items["additionalProperties"] != false {
		t.Error("nested objects must stay strict")
	}
}

func TestCompile_Validates(t *testing.T) {
	compiled, err := Compile(Object{Properties: map[string]Schema{
		"department": Enum{Values: []string{"Financeiro"}},
		"priority":   Optional{Inner: Number{}},
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	valid := map[string]any{"department": "Financeiro", "priority": nil}
	if err := compiled.Validate(valid); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}

	badEnum := map[string]any{"department": "Vendas", "priority": nil}
	if err := compiled.Validate(badEnum); err == nil {
		t.Error("out-of-enum value accepted")
	}

	extra := map[string]any{"department": "Financeiro", "priority": nil, "x": 1}
	if err := compiled.Validate(extra); err == nil {
		t.Error("additional property accepted in strict mode")
	}

	missing := map[string]any{"department": "Financeiro"}
	if err := compiled.Validate(missing); err == nil {
		t.Error("missing declared field accepted")
	}
}
