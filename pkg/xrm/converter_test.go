package xrm

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/pkg/schema"
)

const samplePayload = `{
  "BusinessUnitId": "7b5a2c11-4c6e-4f1f-9d43-0b1c2d3e4f50",
  "CorrelationId": "0f8fad5b-d9cb-469f-a165-70867728950e",
  "Depth": 1,
  "InitiatingUserId": "9a1d2c3b-4e5f-4a6b-8c7d-0e1f2a3b4c5d",
  "InputParameters": [
    {
      "key": "Target",
      "value": {
        "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
        "Attributes": [
          {"key": "firstname", "value": "Ann"},
          {"key": "birthdate", "value": "/Date(1761850730000+0200)/"},
          {"key": "parentcustomerid", "value": {
            "__type": "EntityReference:http://schemas.microsoft.com/xrm/2011/Contracts",
            "Id": "5d0a3c8e-1111-4222-8333-944455556666",
            "LogicalName": "account",
            "Name": "Contoso"
          }},
          {"key": "statuscode", "value": {
            "__type": "OptionSetValue:http://schemas.microsoft.com/xrm/2011/Contracts",
            "Value": 1
          }},
          {"key": "creditlimit", "value": {
            "__type": "Money:http://schemas.microsoft.com/xrm/2011/Contracts",
            "Value": 1500.5
          }},
          {"key": "numberofchildren", "value": 2},
          {"key": "tags", "value": ["/Date(1761850730000)/", "vip"]},
          {"key": "donotemail", "value": false}
        ],
        "EntityState": null,
        "FormattedValues": [],
        "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
        "KeyAttributes": [],
        "LogicalName": "contact",
        "RelatedEntities": [],
        "RowVersion": null
      }
    }
  ],
  "MessageName": "Update",
  "Mode": 0,
  "OperationCreatedOn": "/Date(1761850730000)/",
  "OrganizationId": "2c3d4e5f-6a7b-4c8d-9e0f-1a2b3c4d5e6f",
  "OrganizationName": "contoso",
  "OutputParameters": [],
  "ParentContext": null,
  "PostEntityImages": [
    {
      "key": "post",
      "value": {
        "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
        "Attributes": [{"key": "lastname", "value": "Lee"}],
        "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
        "LogicalName": "contact"
      }
    }
  ],
  "PreEntityImages": [
    {
      "key": "PreBusinessEntity",
      "value": {
        "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
        "Attributes": [],
        "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
        "LogicalName": "contact"
      }
    },
    {
      "key": "pre",
      "value": {
        "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
        "Attributes": [{"key": "firstname", "value": "Anna"}],
        "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
        "LogicalName": "contact"
      }
    }
  ],
  "PrimaryEntityId": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
  "PrimaryEntityName": "contact",
  "RequestId": null,
  "SharedVariables": [{"key": "IsAutoTransact", "value": true}],
  "Stage": 40,
  "UserId": "9a1d2c3b-4e5f-4a6b-8c7d-0e1f2a3b4c5d"
}`

func TestUnmarshalContext_Sample(t *testing.T) {
	ctx, err := UnmarshalContext([]byte(samplePayload))
	require.NoError(t, err)
	require.NotNil(t, ctx)

	assert.Equal(t, "Update", ctx.MessageName)
	assert.Equal(t, StagePostOperation, ctx.Stage)
	assert.Equal(t, "contact", ctx.PrimaryEntityName)
	assert.Equal(t, uuid.MustParse("1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b"), ctx.PrimaryEntityID)
	assert.Equal(t, uuid.Nil, ctx.RequestID)
	assert.Equal(t, "contoso", ctx.OrganizationName)
	assert.True(t, time.UnixMilli(1761850730000).Equal(ctx.OperationCreatedOn))
	assert.Nil(t, ctx.ParentContext)

	target, ok := ctx.InputParameters.Entity(ParameterTarget)
	require.True(t, ok)
	assert.Equal(t, "contact", target.LogicalName)
	assert.Equal(t, "Ann", target.GetString("firstname"))

	birth, ok := target.GetTime("birthdate")
	require.True(t, ok)
	assert.True(t, time.UnixMilli(1761850730000).Equal(birth))
	assert.Equal(t, time.UTC, birth.Location())

	parent, ok := target.GetReference("parentcustomerid")
	require.True(t, ok)
	assert.Equal(t, "account", parent.LogicalName)
	assert.Equal(t, "Contoso", parent.Name)

	status, ok := target.GetOptionSet("statuscode")
	require.True(t, ok)
	assert.Equal(t, 1, status)

	limit, ok := target.GetMoney("creditlimit")
	require.True(t, ok)
	assert.Equal(t, 1500.5, limit)

	children, ok := target.GetInt("numberofchildren")
	require.True(t, ok)
	assert.Equal(t, int64(2), children)

	// dates inside plain arrays stay strings
	tags, _ := target.Get("tags")
	assert.Equal(t, []any{"/Date(1761850730000)/", "vip"}, tags)

	assert.Equal(t, []string{"PreBusinessEntity", "pre"}, ctx.PreEntityImages.Names())
	pre, ok := ctx.PreEntityImages.Get("pre")
	require.True(t, ok)
	assert.Equal(t, "Anna", pre.GetString("firstname"))

	post, ok := ctx.PostEntityImages.Get("post")
	require.True(t, ok)
	assert.Equal(t, "Lee", post.GetString("lastname"))

	assert.Equal(t, true, ctx.SharedVariables["IsAutoTransact"])
}

func TestUnmarshalContext_Empty(t *testing.T) {
	ctx, err := UnmarshalContext(nil)
	require.NoError(t, err)
	assert.Nil(t, ctx)

	ctx, err = UnmarshalContext([]byte("   \n"))
	require.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestUnmarshalContext_InvalidJSON(t *testing.T) {
	_, err := UnmarshalContext([]byte(`{"MessageName":`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSerialization))
}

func TestUnmarshalContext_InvalidGUID(t *testing.T) {
	_, err := UnmarshalContext([]byte(`{"MessageName":"Create","UserId":"not-a-guid"}`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSerialization))
	assert.Contains(t, err.Error(), "UserId")
}

func TestUnmarshalContext_InvalidAttributeID(t *testing.T) {
	payload := `{"InputParameters":[{"key":"Target","value":{
		"__type":"Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
		"Id":"bogus","LogicalName":"contact","Attributes":[]}}]}`
	_, err := UnmarshalContext([]byte(payload))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSerialization))
	assert.Contains(t, err.Error(), "InputParameters")
}

func TestUnmarshalContext_BulkTargetsAndParent(t *testing.T) {
	payload := `{
	  "MessageName": "UpdateMultiple",
	  "Stage": 20,
	  "InputParameters": [{"key": "Targets", "value": {
	    "__type": "EntityCollection:http://schemas.microsoft.com/xrm/2011/Contracts",
	    "EntityName": "account",
	    "Entities": [
	      {"__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts", "Id": "11111111-1111-4111-8111-111111111111", "LogicalName": "account", "Attributes": [{"key": "name", "value": "A"}]},
	      {"__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts", "Id": "22222222-2222-4222-8222-222222222222", "LogicalName": "account", "Attributes": [{"key": "name", "value": "B"}]}
	    ]
	  }}],
	  "PreEntityImagesCollection": [
	    [{"key": "pre", "value": {"Id": "11111111-1111-4111-8111-111111111111", "LogicalName": "account", "Attributes": []}}],
	    [{"key": "pre", "value": {"Id": "22222222-2222-4222-8222-222222222222", "LogicalName": "account", "Attributes": []}}]
	  ],
	  "ParentContext": {"MessageName": "Update", "Stage": 30, "Depth": 1}
	}`

	ctx, err := UnmarshalContext([]byte(payload))
	require.NoError(t, err)

	targets, ok := ctx.InputParameters.EntityCollection(ParameterTargets)
	require.True(t, ok)
	require.Equal(t, 2, targets.Len())
	assert.Equal(t, "B", targets.Entities[1].GetString("name"))

	require.Len(t, ctx.PreEntityImagesCollection, 2)
	assert.Nil(t, ctx.PostEntityImagesCollection)

	require.NotNil(t, ctx.ParentContext)
	assert.Equal(t, "Update", ctx.ParentContext.MessageName)
	assert.Equal(t, StageMainOperation, ctx.ParentContext.Stage)
}

func TestMarshalContext_RoundTrip(t *testing.T) {
	ctx, err := UnmarshalContext([]byte(samplePayload))
	require.NoError(t, err)

	data, err := MarshalContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"/Date(1761850730000)/"`)
	assert.Contains(t, string(data), "Entity:http://schemas.microsoft.com/xrm/2011/Contracts")

	again, err := UnmarshalContext(data)
	require.NoError(t, err)
	assert.Equal(t, ctx.MessageName, again.MessageName)
	assert.Equal(t, ctx.PrimaryEntityID, again.PrimaryEntityID)

	target, ok := again.InputParameters.Entity(ParameterTarget)
	require.True(t, ok)
	birth, ok := target.GetTime("birthdate")
	require.True(t, ok)
	assert.True(t, time.UnixMilli(1761850730000).Equal(birth))
	parent, ok := target.GetReference("parentcustomerid")
	require.True(t, ok)
	assert.Equal(t, "Contoso", parent.Name)
}

func TestMarshalContext_Nil(t *testing.T) {
	data, err := MarshalContext(nil)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadContext(t *testing.T) {
	ctx, err := ReadContext(strings.NewReader(`{"MessageName":"Create","Stage":20}`))
	require.NoError(t, err)
	assert.Equal(t, "Create", ctx.MessageName)
	assert.Equal(t, StagePreOperation, ctx.Stage)
}

func TestMarshalEntity_RoundTrip(t *testing.T) {
	e := NewEntity("contact", uuid.New())
	e.Set("firstname", "Ann")
	e.Set("statuscode", OptionSetValue{Value: 3})

	data, err := MarshalEntity(e)
	require.NoError(t, err)

	back, err := UnmarshalEntity(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, "Ann", back.GetString("firstname"))
	status, ok := back.GetOptionSet("statuscode")
	assert.True(t, ok)
	assert.Equal(t, 3, status)
}
