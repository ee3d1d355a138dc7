package httpapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator compiles a fixed set of named JSON schemas once and
// validates arbitrary payloads against them, turning the library's
// validation-error tree into dotted field paths (§4.2, Supplemented
// Features §1).
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

func (v *schemaValidator) compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[name]; ok {
		return s, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("httpapi: unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resourceID := name + ".json"
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, fmt.Errorf("httpapi: add schema resource %s: %w", name, err)
	}
	s, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile schema %s: %w", name, err)
	}
	v.compiled[name] = s
	return s, nil
}

// validate decodes body as JSON and checks it against the named schema,
// returning a *APIError(KindValidation) with one FieldError per leaf
// failure on mismatch.
func (v *schemaValidator) validate(name, schemaJSON string, body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errValidation("request body is not valid JSON")
	}
	schema, err := v.compile(name, schemaJSON)
	if err != nil {
		return nil, errInternal(err.Error())
	}
	if err := schema.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return nil, errValidation(err.Error())
		}
		return nil, errValidation("request failed schema validation", flattenValidationError(ve)...)
	}
	return doc, nil
}

// flattenValidationError walks the cause tree of a jsonschema.ValidationError
// and produces one FieldError per leaf, with the field path built from
// InstanceLocation (e.g. "target/chatId" -> "target.chatId").
func flattenValidationError(ve *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Field:   fieldPath(e.InstanceLocation),
				Message: e.Error(),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return dedupeFields(out)
}

func fieldPath(location []string) string {
	if len(location) == 0 {
		return "(root)"
	}
	return strings.Join(location, ".")
}

func dedupeFields(in []FieldError) []FieldError {
	seen := make(map[string]bool, len(in))
	out := make([]FieldError, 0, len(in))
	for _, f := range in {
		key := f.Field + "|" + f.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
