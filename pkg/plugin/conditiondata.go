package plugin

import (
	"time"

	"github.com/google/uuid"

	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/xrm"
)

// ConditionData builds the variables a condition sees: the attribute maps of
// the target, pre, post and complete views, and the invocation metadata under
// context. Typed values are flattened to JSON-like shapes: references become
// {logicalname, id, name} maps, choices their number, money its amount and
// dates RFC 3339 strings.
func ConditionData(ce *contextentity.ContextEntity) map[string]any {
	ec := ce.Context()
	if ec == nil {
		ec = &xrm.ExecutionContext{}
	}
	return map[string]any{
		"target":   entityData(ce.Target()),
		"pre":      entityData(ce.PreImage()),
		"post":     entityData(ce.PostImage()),
		"complete": entityData(ce.Complete()),
		"context": map[string]any{
			"message":            ec.MessageName,
			"stage":              int64(ec.Stage),
			"mode":               int64(ec.Mode),
			"depth":              int64(ec.Depth),
			"entity":             ec.PrimaryEntityName,
			"entity_id":          ec.PrimaryEntityID.String(),
			"user_id":            ec.UserID.String(),
			"initiating_user_id": ec.InitiatingUserID.String(),
			"business_unit_id":   ec.BusinessUnitID.String(),
			"organization_id":    ec.OrganizationID.String(),
			"organization":       ec.OrganizationName,
			"correlation_id":     ec.CorrelationID.String(),
			"bulk":               ce.IsBulk(),
			"index":              int64(ce.Index()),
		},
	}
}

func entityData(e *xrm.Entity) map[string]any {
	out := map[string]any{}
	if e == nil {
		return out
	}
	for name, v := range e.Attributes {
		out[name] = conditionValue(v)
	}
	return out
}

func conditionValue(v any) any {
	switch val := v.(type) {
	case xrm.EntityReference:
		return referenceData(val)
	case *xrm.EntityReference:
		if val == nil {
			return nil
		}
		return referenceData(*val)
	case xrm.OptionSetValue:
		return int64(val.Value)
	case *xrm.OptionSetValue:
		if val == nil {
			return nil
		}
		return int64(val.Value)
	case xrm.Money:
		return val.Value
	case *xrm.Money:
		if val == nil {
			return nil
		}
		return val.Value
	case *xrm.Entity:
		if val == nil {
			return nil
		}
		return entityData(val)
	case *xrm.EntityCollection:
		if val == nil {
			return nil
		}
		items := make([]any, len(val.Entities))
		for i, e := range val.Entities {
			items[i] = entityData(e)
		}
		return items
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return val.String()
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = conditionValue(item)
		}
		return items
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = conditionValue(item)
		}
		return out
	}
	return v
}

func referenceData(r xrm.EntityReference) map[string]any {
	return map[string]any{
		"logicalname": r.LogicalName,
		"id":          r.ID.String(),
		"name":        r.Name,
	}
}
