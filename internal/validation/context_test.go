package validation

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

const validPayload = `{
  "MessageName": "Update",
  "Stage": 40,
  "Mode": 0,
  "Depth": 1,
  "PrimaryEntityName": "account",
  "PrimaryEntityId": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
  "UserId": "9a1d2c3b-4e5f-4a6b-8c7d-0e1f2a3b4c5d",
  "RequestId": null,
  "ParentContext": null,
  "IsExecutingOffline": false,
  "InputParameters": [
    {"key": "Target", "value": {
      "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
      "LogicalName": "account",
      "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
      "Attributes": [{"key": "name", "value": "Contoso"}]
    }}
  ],
  "PreEntityImages": [
    {"key": "pre", "value": {
      "LogicalName": "account",
      "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
      "Attributes": [{"key": "name", "value": "Old"}]
    }}
  ],
  "PostEntityImages": []
}`

func newValidator(t *testing.T) *ContextValidator {
	t.Helper()
	v, err := NewContextValidator()
	require.NoError(t, err)
	return v
}

func errorPaths(result *schema.ValidationResult) []string {
	paths := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		paths[i] = e.Path
	}
	return paths
}

// --- Interface compliance ---

func TestContextValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*ContextValidator)(nil)
}

// --- Validate ---

func TestValidate_Valid(t *testing.T) {
	v := newValidator(t)

	ec, result := v.Validate([]byte(validPayload))
	require.True(t, result.Valid(), "%v", result.Errors)
	assert.Empty(t, result.Warnings)
	require.NotNil(t, ec)
	assert.Equal(t, "Update", ec.MessageName)
	assert.Equal(t, 40, ec.Stage)

	target, ok := ec.InputParameters.Entity(xrm.ParameterTarget)
	require.True(t, ok)
	assert.Equal(t, "Contoso", target.GetString("name"))
}

func TestValidate_Empty(t *testing.T) {
	v := newValidator(t)
	for _, body := range []string{"", "  \n"} {
		ec, result := v.Validate([]byte(body))
		assert.Nil(t, ec)
		assert.True(t, result.Valid())
	}
}

func TestValidate_NotJSON(t *testing.T) {
	v := newValidator(t)
	ec, result := v.Validate([]byte(`{"MessageName": `))
	assert.Nil(t, ec)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "/", result.Errors[0].Path)
	assert.Equal(t, "json", result.Errors[0].Rule)
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		path    string
	}{
		{"missing message", `{"Stage": 40, "PrimaryEntityName": "account"}`, "/"},
		{"empty message", `{"MessageName": "", "Stage": 40, "PrimaryEntityName": "account"}`, "/MessageName"},
		{"unknown stage", `{"MessageName": "Update", "Stage": 25, "PrimaryEntityName": "account"}`, "/Stage"},
		{"stage as string", `{"MessageName": "Update", "Stage": "40", "PrimaryEntityName": "account"}`, "/Stage"},
		{"bad guid", `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account", "UserId": "bob"}`, "/UserId"},
		{"negative depth", `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account", "Depth": -1}`, "/Depth"},
		{"parameter without key", `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account",
			"InputParameters": [{"value": 1}]}`, "/InputParameters/0"},
		{"image without logical name", `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account",
			"PreEntityImages": [{"key": "pre", "value": {"Attributes": []}}]}`, "/PreEntityImages/0/value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t)
			ec, result := v.Validate([]byte(tt.payload))
			assert.Nil(t, ec)
			require.False(t, result.Valid())
			assert.Contains(t, errorPaths(result), tt.path)
			for _, e := range result.Errors {
				assert.Equal(t, "schema", e.Rule)
			}
		})
	}
}

func TestValidate_ParentContextIsChecked(t *testing.T) {
	v := newValidator(t)
	payload := `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account",
		"ParentContext": {"MessageName": "Update", "Stage": 15, "PrimaryEntityName": "account"}}`
	_, result := v.Validate([]byte(payload))
	require.False(t, result.Valid())
	assert.Contains(t, errorPaths(result), "/ParentContext/Stage")
}

func TestValidate_DecodeError(t *testing.T) {
	v := newValidator(t)
	// passes the schema but the attribute reference id is not a GUID
	payload := `{"MessageName": "Update", "Stage": 40, "PrimaryEntityName": "account",
		"InputParameters": [{"key": "Target", "value": {
			"__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
			"LogicalName": "account",
			"Attributes": [{"key": "ownerid", "value": {
				"__type": "EntityReference:http://schemas.microsoft.com/xrm/2011/Contracts",
				"LogicalName": "systemuser", "Id": "nope"}}]
		}}]}`
	ec, result := v.Validate([]byte(payload))
	assert.Nil(t, ec)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "decode", result.Errors[0].Rule)
}

func TestValidate_SemanticWarnings(t *testing.T) {
	v := newValidator(t)
	payload := strings.Replace(validPayload, `"PrimaryEntityName": "account"`, `"PrimaryEntityName": "contact"`, 1)

	ec, result := v.Validate([]byte(payload))
	require.NotNil(t, ec)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "entity_mismatch", result.Warnings[0].Rule)
	assert.NoError(t, result.ToError())
}

// --- ValidatePayload / ValidateContext ---

func TestValidatePayload(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidatePayload([]byte(validPayload)))

	err := v.ValidatePayload([]byte(`{"MessageName": "Update", "Stage": 25, "PrimaryEntityName": ""}`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "/Stage")
}

func TestValidateContext(t *testing.T) {
	v := newValidator(t)

	ec := &xrm.ExecutionContext{
		MessageName:       "Create",
		Stage:             xrm.StagePreOperation,
		Depth:             1,
		PrimaryEntityName: "contact",
		PrimaryEntityID:   uuid.New(),
		UserID:            uuid.New(),
		InputParameters: xrm.ParameterCollection{
			xrm.ParameterTarget: &xrm.Entity{LogicalName: "contact", ID: uuid.New(), Attributes: xrm.AttributeCollection{"firstname": "Ann"}},
		},
	}
	assert.NoError(t, v.ValidateContext(ec))

	ec.Stage = 0
	err := v.ValidateContext(ec)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = v.ValidateContext(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestContextValidator_ConcurrentUse(t *testing.T) {
	v := newValidator(t)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidatePayload([]byte(validPayload)))
		}()
	}
	wg.Wait()
}
