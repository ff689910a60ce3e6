package plugin

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/xrm"
)

func TestConditionData_Views(t *testing.T) {
	target := account(xrm.AttributeCollection{"name": "New"})
	ec := updateContext(target)
	ec.PreEntityImages.Add("pre", account(xrm.AttributeCollection{"name": "Old", "city": "Oslo"}))

	data := ConditionData(contextentity.New(ec))

	assert.Equal(t, map[string]any{"name": "New"}, data["target"])
	assert.Equal(t, map[string]any{"name": "Old", "city": "Oslo"}, data["pre"])
	assert.Equal(t, map[string]any{}, data["post"])
	assert.Equal(t, map[string]any{"name": "New", "city": "Oslo"}, data["complete"])

	meta := data["context"].(map[string]any)
	assert.Equal(t, "Update", meta["message"])
	assert.Equal(t, int64(40), meta["stage"])
	assert.Equal(t, "account", meta["entity"])
	assert.Equal(t, ec.CorrelationID.String(), meta["correlation_id"])
	assert.Equal(t, false, meta["bulk"])
	assert.Equal(t, int64(-1), meta["index"])
}

func TestConditionData_Values(t *testing.T) {
	owner := uuid.New()
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	target := account(xrm.AttributeCollection{
		"ownerid":      xrm.EntityReference{LogicalName: "systemuser", ID: owner, Name: "Ann"},
		"parentid":     (*xrm.EntityReference)(nil),
		"statuscode":   xrm.OptionSetValue{Value: 3},
		"creditlimit":  &xrm.Money{Value: 12.5},
		"createdon":    when,
		"externalid":   owner,
		"numberofkids": 2,
		"tags":         []any{"a", int32(7)},
	})

	data := ConditionData(contextentity.New(updateContext(target)))
	got := data["target"].(map[string]any)

	assert.Equal(t, map[string]any{"logicalname": "systemuser", "id": owner.String(), "name": "Ann"}, got["ownerid"])
	assert.Nil(t, got["parentid"])
	assert.Equal(t, int64(3), got["statuscode"])
	assert.Equal(t, 12.5, got["creditlimit"])
	assert.Equal(t, "2024-03-01T11:30:00Z", got["createdon"])
	assert.Equal(t, owner.String(), got["externalid"])
	assert.Equal(t, int64(2), got["numberofkids"])
	assert.Equal(t, []any{"a", int64(7)}, got["tags"])
}

func TestConditionData_Bulk(t *testing.T) {
	ec := updateContext(nil)
	ec.InputParameters[xrm.ParameterTargets] = &xrm.EntityCollection{
		EntityName: "account",
		Entities:   []*xrm.Entity{account(xrm.AttributeCollection{"n": 0}), account(xrm.AttributeCollection{"n": 1})},
	}

	coll := contextentity.NewCollection(ec)
	require.Equal(t, 2, coll.Len())

	data := ConditionData(coll.At(1))
	assert.Equal(t, map[string]any{"n": int64(1)}, data["target"])
	meta := data["context"].(map[string]any)
	assert.Equal(t, true, meta["bulk"])
	assert.Equal(t, int64(1), meta["index"])
}

func TestConditionData_NilContext(t *testing.T) {
	data := ConditionData(contextentity.New(nil))
	assert.Equal(t, map[string]any{}, data["target"])
	meta := data["context"].(map[string]any)
	assert.Equal(t, "", meta["message"])
}
