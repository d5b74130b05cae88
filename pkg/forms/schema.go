package forms

import (
	"fmt"
	"net/http"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// LoadSchemas compiles a CUE source declaring forms and returns a schema
// per form name. The expected shape:
//
//	forms: {
//		login: {
//			endpoint: "/api/login/"
//			method:   "POST"
//			fields: {
//				email: {value: "", validators: [{name: "email"}], step: 1}
//			}
//		}
//	}
//
// Validator args, omitIf sentinels and per-field debounce (milliseconds)
// follow the FieldSchema shape.
func LoadSchemas(source []byte) (map[string]*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("forms: compiling schema: %w", err)
	}
	root := val.LookupPath(cue.ParsePath("forms"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("forms: schema has no forms block: %w", err)
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, fmt.Errorf("forms: iterating forms: %w", err)
	}
	schemas := make(map[string]*Schema)
	for iter.Next() {
		name := iter.Selector().Unquoted()
		schema, err := parseFormValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("forms: form %q: %w", name, err)
		}
		schemas[name] = schema
	}
	return schemas, nil
}

func parseFormValue(val cue.Value) (*Schema, error) {
	schema := &Schema{
		Method: http.MethodPost,
		Fields: make(map[string]*FieldSchema),
	}
	var err error
	if schema.Endpoint, err = val.LookupPath(cue.ParsePath("endpoint")).String(); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	if method := val.LookupPath(cue.ParsePath("method")); method.Exists() {
		if schema.Method, err = method.String(); err != nil {
			return nil, fmt.Errorf("method: %w", err)
		}
	}
	if reset := val.LookupPath(cue.ParsePath("reset")); reset.Exists() {
		if schema.Reset, err = reset.Bool(); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
	}
	if window := val.LookupPath(cue.ParsePath("debounce")); window.Exists() {
		ms, err := window.Int64()
		if err != nil {
			return nil, fmt.Errorf("debounce: %w", err)
		}
		schema.Debounce = time.Duration(ms) * time.Millisecond
	}
	fields := val.LookupPath(cue.ParsePath("fields"))
	if err := fields.Err(); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	iter, err := fields.Fields()
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		field, err := parseFieldValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		schema.Fields[name] = field
	}
	return schema, nil
}

func parseFieldValue(val cue.Value) (*FieldSchema, error) {
	field := &FieldSchema{}
	if v := val.LookupPath(cue.ParsePath("value")); v.Exists() {
		if err := v.Decode(&field.Value); err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
	}
	var err error
	if step := val.LookupPath(cue.ParsePath("step")); step.Exists() {
		n, err := step.Int64()
		if err != nil {
			return nil, fmt.Errorf("step: %w", err)
		}
		field.Step = int(n)
	}
	if disabled := val.LookupPath(cue.ParsePath("disabled")); disabled.Exists() {
		if field.Disabled, err = disabled.Bool(); err != nil {
			return nil, fmt.Errorf("disabled: %w", err)
		}
	}
	if hidden := val.LookupPath(cue.ParsePath("hidden")); hidden.Exists() {
		if field.Hidden, err = hidden.Bool(); err != nil {
			return nil, fmt.Errorf("hidden: %w", err)
		}
	}
	if omit := val.LookupPath(cue.ParsePath("omitIf")); omit.Exists() {
		var sentinel any
		if err := omit.Decode(&sentinel); err != nil {
			return nil, fmt.Errorf("omitIf: %w", err)
		}
		field.OmitIf = &sentinel
	}
	if window := val.LookupPath(cue.ParsePath("debounce")); window.Exists() {
		ms, err := window.Int64()
		if err != nil {
			return nil, fmt.Errorf("debounce: %w", err)
		}
		field.Debounce = time.Duration(ms) * time.Millisecond
	}
	if validators := val.LookupPath(cue.ParsePath("validators")); validators.Exists() {
		iter, err := validators.List()
		if err != nil {
			return nil, fmt.Errorf("validators: %w", err)
		}
		for iter.Next() {
			var spec ValidatorSpec
			if err := iter.Value().Decode(&spec); err != nil {
				return nil, fmt.Errorf("validators: %w", err)
			}
			field.Validators = append(field.Validators, spec)
		}
	}
	return field, nil
}
