// ABOUTME: Argument validation against a descriptor's compiled JSON Schema.
// ABOUTME: Reports every offending field, not just the first.

package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldError describes one argument validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ArgumentError aggregates all field-level failures for one tool call.
type ArgumentError struct {
	Tool   string       `json:"tool"`
	Fields []FieldError `json:"fields"`
}

func (e *ArgumentError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid arguments for " + e.Tool + ": " + strings.Join(parts, "; ")
}

// ValidateArguments checks the supplied arguments against the descriptor's
// schema. Required fields must be present, declared types must be satisfied,
// and unexpected fields are rejected rather than dropped. On failure the
// returned *ArgumentError lists every offending field.
func (d *Descriptor) ValidateArguments(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	err := d.schema.Validate(toInstance(args))
	if err == nil {
		return nil
	}

	argErr := &ArgumentError{Tool: d.Name}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		collectLeaves(ve, argErr)
	} else {
		argErr.Fields = append(argErr.Fields, FieldError{Field: "/", Message: err.Error()})
	}
	return argErr
}

// collectLeaves walks the validation error tree and records each leaf cause.
func collectLeaves(ve *jsonschema.ValidationError, out *ArgumentError) {
	if len(ve.Causes) == 0 {
		out.Fields = append(out.Fields, FieldError{
			Field:   "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.Error(),
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// toInstance makes decoded arguments acceptable to the schema validator,
// which expects values as encoding/json decodes them. json.Number values
// are widened to float64.
func toInstance(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = toInstance(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = toInstance(val)
		}
		return s
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return string(t)
		}
		return f
	default:
		return v
	}
}
