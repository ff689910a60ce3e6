package validation

import (
	"bytes"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

// ContextValidator runs the two-stage check of a remote execution context:
// 1. Structural (JSON Schema over the raw payload)
// 2. Semantic (consistency of the decoded context, warnings only)
//
// It is safe for concurrent use.
type ContextValidator struct {
	schema *jsonschema.Schema
}

// NewContextValidator creates a ContextValidator with the schema pre-compiled.
func NewContextValidator() (*ContextValidator, error) {
	compiled, err := compileContextSchema()
	if err != nil {
		return nil, err
	}
	return &ContextValidator{schema: compiled}, nil
}

// Validate checks data and decodes it. Structural errors short-circuit:
// nothing is decoded and the semantic stage is skipped. An empty payload is
// valid and yields a nil context.
func (v *ContextValidator) Validate(data []byte) (*xrm.ExecutionContext, *schema.ValidationResult) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &schema.ValidationResult{}
	}

	// Stage 1: Structural.
	result := validateStructural(v.schema, data)
	if !result.Valid() {
		return nil, result
	}

	ec, err := xrm.UnmarshalContext(data)
	if err != nil {
		msg := err.Error()
		if pe, ok := schema.AsPluginError(err); ok {
			msg = pe.Message
			if pe.Cause != nil {
				msg += ": " + pe.Cause.Error()
			}
		}
		result.AddError("/", "decode", msg)
		return nil, result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(ec))
	return ec, result
}

// ValidatePayload satisfies the Validator interface.
func (v *ContextValidator) ValidatePayload(data []byte) error {
	_, result := v.Validate(data)
	return result.ToError()
}

// ValidateContext checks an in-memory context by encoding it first.
func (v *ContextValidator) ValidateContext(ec *xrm.ExecutionContext) error {
	if ec == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution context is nil")
	}
	data, err := xrm.MarshalContext(ec)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize execution context").WithCause(err)
	}
	return v.ValidatePayload(data)
}
