// Package validation checks refund requests and merchant policies against
// their JSON Schemas before they reach the decision engine.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opensource-finance/refundguard/internal/domain"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaBase = "https://refundguard.local/schema/"

// FieldError describes one invalid field. Field is a dotted path such as
// "customerHistory.refund_rate"; "body" refers to the document itself.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is returned when a document fails validation.
type Error struct {
	Details []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator holds the compiled request and policy schemas. It is safe for concurrent use.
type Validator struct {
	request *jsonschema.Schema
	policy  *jsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	for _, name := range []string{"merchant_policy.json", "refund_request.json"} {
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
	}

	request, err := c.Compile(schemaBase + "refund_request.json")
	if err != nil {
		return nil, fmt.Errorf("request schema compile failed: %w", err)
	}
	policy, err := c.Compile(schemaBase + "merchant_policy.json")
	if err != nil {
		return nil, fmt.Errorf("policy schema compile failed: %w", err)
	}

	return &Validator{request: request, policy: policy}, nil
}

// DecodeRequest validates data against the refund request schema and decodes it.
// Validation failures are returned as *Error.
func (v *Validator) DecodeRequest(data []byte) (*domain.RefundRequest, error) {
	var req domain.RefundRequest
	if err := v.decode(v.request, data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodePolicy validates data against the merchant policy schema and decodes it.
// Threshold ordering is a semantic check left to the caller.
func (v *Validator) DecodePolicy(data []byte) (*domain.MerchantPolicy, error) {
	var p domain.MerchantPolicy
	if err := v.decode(v.policy, data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (v *Validator) decode(schema *jsonschema.Schema, data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &Error{Details: []FieldError{{Field: "body", Message: "invalid JSON: " + err.Error()}}}
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Details: flatten(verr)}
		}
		return fmt.Errorf("schema validation: %w", err)
	}

	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(out); err != nil {
		return &Error{Details: []FieldError{decodeError(err)}}
	}
	return nil
}

// flatten collects the leaf causes of a validation error, sorted by field.
func flatten(root *jsonschema.ValidationError) []FieldError {
	seen := make(map[FieldError]bool)
	var out []FieldError

	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			fe := FieldError{Field: fieldPath(e.InstanceLocation), Message: e.Message}
			if !seen[fe] {
				seen[fe] = true
				out = append(out, fe)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// fieldPath converts a JSON pointer into a dotted path.
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "body"
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

func decodeError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return FieldError{Field: typeErr.Field, Message: fmt.Sprintf("expected %s", typeErr.Type)}
	}
	return FieldError{Field: "body", Message: err.Error()}
}
