package xrm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rappen/RappSack/pkg/schema"
)

// contractsNamespace qualifies the __type hints of the remote context format.
const contractsNamespace = "http://schemas.microsoft.com/xrm/2011/Contracts"

// keyValue is one entry of a data-contract dictionary serialized as an array.
type keyValue struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type contextWire struct {
	BusinessUnitID             string       `json:"BusinessUnitId,omitempty"`
	CorrelationID              string       `json:"CorrelationId,omitempty"`
	Depth                      int          `json:"Depth"`
	InitiatingUserID           string       `json:"InitiatingUserId,omitempty"`
	InputParameters            []keyValue   `json:"InputParameters"`
	MessageName                string       `json:"MessageName"`
	Mode                       int          `json:"Mode"`
	OperationCreatedOn         string       `json:"OperationCreatedOn,omitempty"`
	OrganizationID             string       `json:"OrganizationId,omitempty"`
	OrganizationName           string       `json:"OrganizationName,omitempty"`
	OutputParameters           []keyValue   `json:"OutputParameters"`
	ParentContext              *contextWire `json:"ParentContext,omitempty"`
	PostEntityImages           []keyValue   `json:"PostEntityImages"`
	PostEntityImagesCollection [][]keyValue `json:"PostEntityImagesCollection,omitempty"`
	PreEntityImages            []keyValue   `json:"PreEntityImages"`
	PreEntityImagesCollection  [][]keyValue `json:"PreEntityImagesCollection,omitempty"`
	PrimaryEntityID            string       `json:"PrimaryEntityId,omitempty"`
	PrimaryEntityName          string       `json:"PrimaryEntityName"`
	RequestID                  string       `json:"RequestId,omitempty"`
	SharedVariables            []keyValue   `json:"SharedVariables"`
	Stage                      int          `json:"Stage"`
	UserID                     string       `json:"UserId,omitempty"`
}

type entityWire struct {
	Type            string     `json:"__type,omitempty"`
	Attributes      []keyValue `json:"Attributes"`
	EntityState     *int       `json:"EntityState"`
	FormattedValues []keyValue `json:"FormattedValues"`
	ID              string     `json:"Id"`
	KeyAttributes   []keyValue `json:"KeyAttributes"`
	LogicalName     string     `json:"LogicalName"`
	RelatedEntities []keyValue `json:"RelatedEntities"`
	RowVersion      *string    `json:"RowVersion"`
}

type referenceWire struct {
	Type        string  `json:"__type,omitempty"`
	ID          string  `json:"Id"`
	LogicalName string  `json:"LogicalName"`
	Name        *string `json:"Name"`
}

type collectionWire struct {
	Type             string            `json:"__type,omitempty"`
	Entities         []json.RawMessage `json:"Entities"`
	EntityName       string            `json:"EntityName"`
	MoreRecords      bool              `json:"MoreRecords"`
	PagingCookie     *string           `json:"PagingCookie"`
	TotalRecordCount int               `json:"TotalRecordCount"`
}

type optionSetWire struct {
	Type  string `json:"__type,omitempty"`
	Value int    `json:"Value"`
}

type moneyWire struct {
	Type  string  `json:"__type,omitempty"`
	Value float64 `json:"Value"`
}

// ReadContext decodes a remote execution context from r.
func ReadContext(r io.Reader) (*ExecutionContext, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "read execution context").WithCause(err)
	}
	return UnmarshalContext(data)
}

// UnmarshalContext decodes a remote execution context serialized in the
// data-contract JSON format. Microsoft JSON date strings are normalized to UTC
// time.Time values on the way in. An empty body yields a nil context.
func UnmarshalContext(data []byte) (*ExecutionContext, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var w contextWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "invalid execution context payload").WithCause(err)
	}
	return w.toContext()
}

// MarshalContext encodes ctx in the data-contract JSON format. A nil context
// yields an empty result.
func MarshalContext(ctx *ExecutionContext) ([]byte, error) {
	if ctx == nil {
		return nil, nil
	}
	w, err := fromContext(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// MarshalEntity encodes a single record in the data-contract JSON format.
func MarshalEntity(e *Entity) ([]byte, error) {
	return encodeValue(e)
}

// UnmarshalEntity decodes a single record in the data-contract JSON format.
func UnmarshalEntity(data []byte) (*Entity, error) {
	e, err := decodeEntity(data)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "invalid entity payload").WithCause(err)
	}
	return e, nil
}

func (w *contextWire) toContext() (*ExecutionContext, error) {
	ctx := &ExecutionContext{
		MessageName:       w.MessageName,
		Stage:             w.Stage,
		Mode:              w.Mode,
		Depth:             w.Depth,
		PrimaryEntityName: w.PrimaryEntityName,
		OrganizationName:  w.OrganizationName,
	}

	guids := []struct {
		field string
		raw   string
		dst   *uuid.UUID
	}{
		{"PrimaryEntityId", w.PrimaryEntityID, &ctx.PrimaryEntityID},
		{"UserId", w.UserID, &ctx.UserID},
		{"InitiatingUserId", w.InitiatingUserID, &ctx.InitiatingUserID},
		{"BusinessUnitId", w.BusinessUnitID, &ctx.BusinessUnitID},
		{"OrganizationId", w.OrganizationID, &ctx.OrganizationID},
		{"CorrelationId", w.CorrelationID, &ctx.CorrelationID},
		{"RequestId", w.RequestID, &ctx.RequestID},
	}
	for _, g := range guids {
		id, err := parseGUID(g.raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization, "invalid %s %q", g.field, g.raw).WithCause(err)
		}
		*g.dst = id
	}

	if w.OperationCreatedOn != "" {
		t, ok := ParseMSJSONDate(w.OperationCreatedOn)
		if !ok {
			parsed, err := time.Parse(time.RFC3339Nano, w.OperationCreatedOn)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeSerialization,
					"invalid OperationCreatedOn %q", w.OperationCreatedOn).WithCause(err)
			}
			t = parsed.UTC()
		}
		ctx.OperationCreatedOn = t
	}

	var err error
	if ctx.InputParameters, err = decodeParameters(w.InputParameters); err != nil {
		return nil, wrapDecode("InputParameters", err)
	}
	if ctx.OutputParameters, err = decodeParameters(w.OutputParameters); err != nil {
		return nil, wrapDecode("OutputParameters", err)
	}
	if ctx.SharedVariables, err = decodeParameters(w.SharedVariables); err != nil {
		return nil, wrapDecode("SharedVariables", err)
	}
	if ctx.PreEntityImages, err = decodeImages(w.PreEntityImages); err != nil {
		return nil, wrapDecode("PreEntityImages", err)
	}
	if ctx.PostEntityImages, err = decodeImages(w.PostEntityImages); err != nil {
		return nil, wrapDecode("PostEntityImages", err)
	}
	if ctx.PreEntityImagesCollection, err = decodeImageArray(w.PreEntityImagesCollection); err != nil {
		return nil, wrapDecode("PreEntityImagesCollection", err)
	}
	if ctx.PostEntityImagesCollection, err = decodeImageArray(w.PostEntityImagesCollection); err != nil {
		return nil, wrapDecode("PostEntityImagesCollection", err)
	}

	if w.ParentContext != nil {
		parent, err := w.ParentContext.toContext()
		if err != nil {
			return nil, err
		}
		ctx.ParentContext = parent
	}
	return ctx, nil
}

func wrapDecode(field string, err error) error {
	if _, ok := schema.AsPluginError(err); ok {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeSerialization, "invalid %s: %s", field, err.Error()).WithCause(err)
}

func parseGUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func decodeParameters(kvs []keyValue) (ParameterCollection, error) {
	params := make(ParameterCollection, len(kvs))
	for _, kv := range kvs {
		v, err := decodeValue(kv.Value, true)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", kv.Key, err)
		}
		params[kv.Key] = v
	}
	return params, nil
}

func decodeImages(kvs []keyValue) (EntityImageCollection, error) {
	images := make(EntityImageCollection, 0, len(kvs))
	for _, kv := range kvs {
		if isNull(kv.Value) {
			continue
		}
		e, err := decodeEntity(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", kv.Key, err)
		}
		images.Add(kv.Key, e)
	}
	return images, nil
}

func decodeImageArray(arr [][]keyValue) ([]EntityImageCollection, error) {
	if arr == nil {
		return nil, nil
	}
	out := make([]EntityImageCollection, len(arr))
	for i, kvs := range arr {
		images, err := decodeImages(kvs)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = images
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeValue turns a data-contract JSON value into its Go representation.
// Date strings inside plain arrays are left untouched.
func decodeValue(raw json.RawMessage, normalizeDates bool) (any, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if normalizeDates {
			if t, ok := ParseMSJSONDate(s); ok {
				return t, nil
			}
		}
		return s, nil
	case '{':
		return decodeObject(raw)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := decodeValue(item, false)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	}
}

func decodeObject(raw json.RawMessage) (any, error) {
	var probe struct {
		Type string `json:"__type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	switch typeName(probe.Type) {
	case "Entity":
		return decodeEntity(raw)
	case "EntityReference":
		return decodeReference(raw)
	case "EntityCollection":
		return decodeCollection(raw)
	case "OptionSetValue":
		var w optionSetWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return OptionSetValue{Value: w.Value}, nil
	case "Money":
		var w moneyWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return Money{Value: w.Value}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "__type" {
			continue
		}
		dv, err := decodeValue(v, true)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

func typeName(hint string) string {
	name, _, _ := strings.Cut(hint, ":")
	return name
}

func contractType(name string) string {
	return name + ":" + contractsNamespace
}

func decodeEntity(raw json.RawMessage) (*Entity, error) {
	var w entityWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	id, err := parseGUID(w.ID)
	if err != nil {
		return nil, fmt.Errorf("entity id %q: %w", w.ID, err)
	}
	e := &Entity{
		LogicalName: w.LogicalName,
		ID:          id,
		Attributes:  make(AttributeCollection, len(w.Attributes)),
	}
	for _, kv := range w.Attributes {
		v, err := decodeValue(kv.Value, true)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", kv.Key, err)
		}
		e.Attributes[kv.Key] = v
	}
	return e, nil
}

func decodeReference(raw json.RawMessage) (EntityReference, error) {
	var w referenceWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return EntityReference{}, err
	}
	id, err := parseGUID(w.ID)
	if err != nil {
		return EntityReference{}, fmt.Errorf("reference id %q: %w", w.ID, err)
	}
	ref := EntityReference{LogicalName: w.LogicalName, ID: id}
	if w.Name != nil {
		ref.Name = *w.Name
	}
	return ref, nil
}

func decodeCollection(raw json.RawMessage) (*EntityCollection, error) {
	var w collectionWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	c := &EntityCollection{EntityName: w.EntityName, Entities: make([]*Entity, 0, len(w.Entities))}
	for i, item := range w.Entities {
		e, err := decodeEntity(item)
		if err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		c.Entities = append(c.Entities, e)
	}
	return c, nil
}

func fromContext(ctx *ExecutionContext) (*contextWire, error) {
	w := &contextWire{
		BusinessUnitID:    ctx.BusinessUnitID.String(),
		CorrelationID:     ctx.CorrelationID.String(),
		Depth:             ctx.Depth,
		InitiatingUserID:  ctx.InitiatingUserID.String(),
		MessageName:       ctx.MessageName,
		Mode:              ctx.Mode,
		OrganizationID:    ctx.OrganizationID.String(),
		OrganizationName:  ctx.OrganizationName,
		PrimaryEntityID:   ctx.PrimaryEntityID.String(),
		PrimaryEntityName: ctx.PrimaryEntityName,
		RequestID:         ctx.RequestID.String(),
		Stage:             ctx.Stage,
		UserID:            ctx.UserID.String(),
	}
	if !ctx.OperationCreatedOn.IsZero() {
		w.OperationCreatedOn = FormatMSJSONDate(ctx.OperationCreatedOn)
	}

	var err error
	if w.InputParameters, err = encodeParameters(ctx.InputParameters); err != nil {
		return nil, err
	}
	if w.OutputParameters, err = encodeParameters(ctx.OutputParameters); err != nil {
		return nil, err
	}
	if w.SharedVariables, err = encodeParameters(ctx.SharedVariables); err != nil {
		return nil, err
	}
	if w.PreEntityImages, err = encodeImages(ctx.PreEntityImages); err != nil {
		return nil, err
	}
	if w.PostEntityImages, err = encodeImages(ctx.PostEntityImages); err != nil {
		return nil, err
	}
	for _, images := range ctx.PreEntityImagesCollection {
		kvs, err := encodeImages(images)
		if err != nil {
			return nil, err
		}
		w.PreEntityImagesCollection = append(w.PreEntityImagesCollection, kvs)
	}
	for _, images := range ctx.PostEntityImagesCollection {
		kvs, err := encodeImages(images)
		if err != nil {
			return nil, err
		}
		w.PostEntityImagesCollection = append(w.PostEntityImagesCollection, kvs)
	}
	if ctx.ParentContext != nil {
		parent, err := fromContext(ctx.ParentContext)
		if err != nil {
			return nil, err
		}
		w.ParentContext = parent
	}
	return w, nil
}

func encodeParameters(params ParameterCollection) ([]keyValue, error) {
	kvs := make([]keyValue, 0, len(params))
	for _, key := range slices.Sorted(maps.Keys(params)) {
		raw, err := encodeValue(params[key])
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization, "parameter %q: %s", key, err.Error()).WithCause(err)
		}
		kvs = append(kvs, keyValue{Key: key, Value: raw})
	}
	return kvs, nil
}

func encodeImages(images EntityImageCollection) ([]keyValue, error) {
	kvs := make([]keyValue, 0, len(images))
	for _, img := range images {
		raw, err := encodeValue(img.Entity)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization, "image %q: %s", img.Name, err.Error()).WithCause(err)
		}
		kvs = append(kvs, keyValue{Key: img.Name, Value: raw})
	}
	return kvs, nil
}

func encodeValue(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case time.Time:
		return json.Marshal(FormatMSJSONDate(val))
	case uuid.UUID:
		return json.Marshal(val.String())
	case *Entity:
		if val == nil {
			return json.RawMessage("null"), nil
		}
		return encodeEntity(val)
	case EntityReference:
		return encodeReference(val)
	case *EntityReference:
		if val == nil {
			return json.RawMessage("null"), nil
		}
		return encodeReference(*val)
	case OptionSetValue:
		return json.Marshal(optionSetWire{Type: contractType("OptionSetValue"), Value: val.Value})
	case Money:
		return json.Marshal(moneyWire{Type: contractType("Money"), Value: val.Value})
	case *EntityCollection:
		if val == nil {
			return json.RawMessage("null"), nil
		}
		w := collectionWire{
			Type:       contractType("EntityCollection"),
			EntityName: val.EntityName,
			Entities:   make([]json.RawMessage, 0, len(val.Entities)),
		}
		for _, e := range val.Entities {
			raw, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			w.Entities = append(w.Entities, raw)
		}
		w.TotalRecordCount = len(w.Entities)
		return json.Marshal(w)
	case []any:
		items := make([]json.RawMessage, len(val))
		for i, item := range val {
			raw, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		return json.Marshal(items)
	case map[string]any:
		fields := make(map[string]json.RawMessage, len(val))
		for k, item := range val {
			raw, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			fields[k] = raw
		}
		return json.Marshal(fields)
	default:
		return json.Marshal(val)
	}
}

func encodeEntity(e *Entity) (json.RawMessage, error) {
	w := entityWire{
		Type:            contractType("Entity"),
		Attributes:      make([]keyValue, 0, len(e.Attributes)),
		FormattedValues: []keyValue{},
		ID:              e.ID.String(),
		KeyAttributes:   []keyValue{},
		LogicalName:     e.LogicalName,
		RelatedEntities: []keyValue{},
	}
	for _, name := range e.AttributeNames() {
		raw, err := encodeValue(e.Attributes[name])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		w.Attributes = append(w.Attributes, keyValue{Key: name, Value: raw})
	}
	return json.Marshal(w)
}

func encodeReference(r EntityReference) (json.RawMessage, error) {
	w := referenceWire{
		Type:        contractType("EntityReference"),
		ID:          r.ID.String(),
		LogicalName: r.LogicalName,
	}
	if r.Name != "" {
		w.Name = &r.Name
	}
	return json.Marshal(w)
}
