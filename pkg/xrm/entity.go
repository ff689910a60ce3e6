package xrm

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttributeCollection holds the attribute values of a record keyed by logical name.
type AttributeCollection map[string]any

// Entity is a record of the data platform: a type name, an identifier and
// an attribute bag. A record synthesized from a reference has no attributes.
type Entity struct {
	LogicalName string
	ID          uuid.UUID
	Attributes  AttributeCollection
}

// NewEntity returns an empty record of the given type.
func NewEntity(logicalName string, id uuid.UUID) *Entity {
	return &Entity{LogicalName: logicalName, ID: id, Attributes: AttributeCollection{}}
}

// Contains reports whether the attribute is present, even when its value is nil.
func (e *Entity) Contains(name string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Attributes[name]
	return ok
}

// Get returns the raw attribute value.
func (e *Entity) Get(name string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// Set stores an attribute value.
func (e *Entity) Set(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = AttributeCollection{}
	}
	e.Attributes[name] = value
}

// Remove deletes an attribute.
func (e *Entity) Remove(name string) {
	if e == nil {
		return
	}
	delete(e.Attributes, name)
}

// AttributeNames returns the attribute names in sorted order.
func (e *Entity) AttributeNames() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(e.Attributes))
}

// Clone returns a copy with its own attribute map. Attribute values are shared.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		LogicalName: e.LogicalName,
		ID:          e.ID,
		Attributes:  maps.Clone(e.Attributes),
	}
}

// ToReference returns a reference to this record.
func (e *Entity) ToReference() EntityReference {
	if e == nil {
		return EntityReference{}
	}
	return EntityReference{LogicalName: e.LogicalName, ID: e.ID}
}

// Merge combines e and other into a new record. Attributes of e win on
// conflicting keys; keys only present in other are added. The logical name and
// id are taken from e unless empty there. Neither operand is modified.
//
// A nil receiver yields a clone of other, a nil other yields a clone of e.
func (e *Entity) Merge(other *Entity) *Entity {
	if e == nil {
		return other.Clone()
	}
	merged := e.Clone()
	if other == nil {
		return merged
	}
	if merged.LogicalName == "" {
		merged.LogicalName = other.LogicalName
	}
	if merged.ID == uuid.Nil {
		merged.ID = other.ID
	}
	if merged.Attributes == nil {
		merged.Attributes = make(AttributeCollection, len(other.Attributes))
	}
	for k, v := range other.Attributes {
		if _, exists := merged.Attributes[k]; !exists {
			merged.Attributes[k] = v
		}
	}
	return merged
}

// GetString returns a string attribute, or "" when absent or not a string.
func (e *Entity) GetString(name string) string {
	v, _ := e.Get(name)
	s, _ := v.(string)
	return s
}

// GetBool returns a boolean attribute.
func (e *Entity) GetBool(name string) (bool, bool) {
	v, _ := e.Get(name)
	b, ok := v.(bool)
	return b, ok
}

// GetInt returns an integral attribute. Whole float64 values are accepted
// because JSON transport does not keep the distinction.
func (e *Entity) GetInt(name string) (int64, bool) {
	v, _ := e.Get(name)
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// GetReference returns a lookup attribute.
func (e *Entity) GetReference(name string) (EntityReference, bool) {
	v, _ := e.Get(name)
	switch r := v.(type) {
	case EntityReference:
		return r, true
	case *EntityReference:
		if r != nil {
			return *r, true
		}
	}
	return EntityReference{}, false
}

// GetOptionSet returns the numeric value of a choice attribute.
func (e *Entity) GetOptionSet(name string) (int, bool) {
	v, _ := e.Get(name)
	switch o := v.(type) {
	case OptionSetValue:
		return o.Value, true
	case *OptionSetValue:
		if o != nil {
			return o.Value, true
		}
	}
	return 0, false
}

// GetMoney returns the amount of a currency attribute.
func (e *Entity) GetMoney(name string) (float64, bool) {
	v, _ := e.Get(name)
	switch m := v.(type) {
	case Money:
		return m.Value, true
	case *Money:
		if m != nil {
			return m.Value, true
		}
	}
	return 0, false
}

// GetTime returns a date/time attribute.
func (e *Entity) GetTime(name string) (time.Time, bool) {
	v, _ := e.Get(name)
	t, ok := v.(time.Time)
	return t, ok
}
