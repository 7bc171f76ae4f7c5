package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ParamType is the JSON schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param declares one tool input. Default applies only when the argument is
// absent and the parameter is optional.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     interface{}
	Enum        []string
}

// ArgError is a validation failure on a single argument.
type ArgError struct {
	Name   string
	Reason string
}

func (e *ArgError) Error() string {
	switch e.Reason {
	case "missing":
		return "missing required argument " + e.Name
	case "unexpected":
		return "unexpected argument " + e.Name
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

// inputSchema renders params as a JSON schema object. Strict schemas set
// additionalProperties to false and Bind rejects unknown fields.
func inputSchema(params []Param, strict bool) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	required := make([]string, 0)
	for _, p := range params {
		prop := map[string]interface{}{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if strict {
		schema["additionalProperties"] = false
	}
	return schema
}

// Args holds validated, defaulted arguments.
type Args map[string]interface{}

// bindArgs validates raw against params and fills defaults.
func bindArgs(params []Param, strict bool, raw map[string]interface{}) (Args, error) {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
	}
	if strict {
		// Report unknown fields in a stable order.
		var extra []string
		for name := range raw {
			if !known[name] {
				extra = append(extra, name)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, &ArgError{Name: extra[0], Reason: "unexpected"}
		}
	}

	out := make(Args, len(params))
	for _, p := range params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &ArgError{Name: p.Name, Reason: "missing"}
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		coerced, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func coerce(p Param, v interface{}) (interface{}, error) {
	bad := func(reason string) error { return &ArgError{Name: p.Name, Reason: reason} }

	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, bad(fmt.Sprintf("expected string, got %T", v))
		}
		if p.Required && s == "" {
			return nil, &ArgError{Name: p.Name, Reason: "missing"}
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, bad(fmt.Sprintf("%q is not one of %v", s, p.Enum))
		}
		return s, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, bad(fmt.Sprintf("expected boolean, got %T", v))
		}
		return b, nil

	case TypeNumber, TypeInteger:
		f, ok := toFloat(v)
		if !ok {
			return nil, bad(fmt.Sprintf("expected %s, got %T", p.Type, v))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, bad("not a finite number")
		}
		if p.Type == TypeNumber {
			return f, nil
		}
		if f != math.Trunc(f) {
			return nil, bad(fmt.Sprintf("expected integer, got %v", f))
		}
		if math.Abs(f) > math.MaxInt32 {
			return nil, bad(fmt.Sprintf("integer %v out of range", f))
		}
		return int(f), nil
	}
	return v, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument or fallback.
func (a Args) Int(name string, fallback int) int {
	if n, ok := a[name].(int); ok {
		return n
	}
	return fallback
}

// Float returns a number argument or fallback.
func (a Args) Float(name string, fallback float64) float64 {
	if f, ok := a[name].(float64); ok {
		return f
	}
	return fallback
}

// Bool returns a boolean argument or fallback.
func (a Args) Bool(name string, fallback bool) bool {
	if b, ok := a[name].(bool); ok {
		return b
	}
	return fallback
}
