package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rappen/RappSack/pkg/schema"
)

const contextSchemaURL = "https://rappsack.dev/schemas/execution-context.json"

// contextSchemaJSON is the JSON Schema of a remote execution context in the
// data-contract format. Unknown members are allowed; the host adds fields
// over time.
const contextSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://rappsack.dev/schemas/execution-context.json",
  "type": "object",
  "required": ["MessageName", "Stage", "PrimaryEntityName"],
  "properties": {
    "MessageName": { "type": "string", "minLength": 1 },
    "Stage": { "type": "integer", "enum": [10, 20, 30, 40] },
    "Mode": { "type": "integer", "enum": [0, 1] },
    "Depth": { "type": "integer", "minimum": 0 },
    "PrimaryEntityName": { "type": "string" },
    "PrimaryEntityId": { "$ref": "#/$defs/guid" },
    "UserId": { "$ref": "#/$defs/guid" },
    "InitiatingUserId": { "$ref": "#/$defs/guid" },
    "BusinessUnitId": { "$ref": "#/$defs/guid" },
    "OrganizationId": { "$ref": "#/$defs/guid" },
    "CorrelationId": { "$ref": "#/$defs/guid" },
    "RequestId": { "$ref": "#/$defs/guid" },
    "OrganizationName": { "type": ["string", "null"] },
    "OperationCreatedOn": { "type": ["string", "null"] },
    "InputParameters": { "$ref": "#/$defs/parameters" },
    "OutputParameters": { "$ref": "#/$defs/parameters" },
    "SharedVariables": { "$ref": "#/$defs/parameters" },
    "PreEntityImages": { "$ref": "#/$defs/images" },
    "PostEntityImages": { "$ref": "#/$defs/images" },
    "PreEntityImagesCollection": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/images" }
    },
    "PostEntityImagesCollection": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/images" }
    },
    "ParentContext": {
      "anyOf": [{ "type": "null" }, { "$ref": "#" }]
    }
  },
  "$defs": {
    "guid": {
      "type": ["string", "null"],
      "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"
    },
    "keyValue": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": { "type": "string", "minLength": 1 },
        "value": {}
      }
    },
    "parameters": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/keyValue" }
    },
    "images": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["key", "value"],
        "properties": {
          "key": { "type": "string" },
          "value": { "$ref": "#/$defs/entity" }
        }
      }
    },
    "entity": {
      "type": "object",
      "required": ["LogicalName"],
      "properties": {
        "LogicalName": { "type": "string", "minLength": 1 },
        "Id": { "$ref": "#/$defs/guid" },
        "Attributes": { "$ref": "#/$defs/parameters" }
      }
    }
  }
}`

// compileContextSchema compiles the embedded execution context schema.
func compileContextSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(contextSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal context schema: %w", err)
	}
	if err := c.AddResource(contextSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add context schema resource: %w", err)
	}

	compiled, err := c.Compile(contextSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile context schema: %w", err)
	}
	return compiled, nil
}

// validateStructural checks a raw payload against the compiled schema.
// Invalid JSON is reported as a single error at the root.
func validateStructural(compiled *jsonschema.Schema, data []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		result.AddError("/", "json", "payload is not valid JSON: "+err.Error())
		return result
	}

	err = compiled.Validate(doc)
	if err == nil {
		return result
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", "schema", err.Error())
		return result
	}
	collectViolations(verr, result)
	return result
}

// collectViolations walks a ValidationError tree and records every leaf at
// its instance location.
func collectViolations(verr *jsonschema.ValidationError, result *schema.ValidationResult) {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		result.AddError(loc, "schema", verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		collectViolations(cause, result)
	}
}
