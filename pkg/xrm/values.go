package xrm

import "github.com/google/uuid"

// EntityReference points at a record by type and id.
type EntityReference struct {
	LogicalName string
	ID          uuid.UUID
	Name        string
}

// IsZero reports whether the reference points at nothing.
func (r EntityReference) IsZero() bool {
	return r.LogicalName == "" && r.ID == uuid.Nil
}

// OptionSetValue is the value of a choice attribute.
type OptionSetValue struct {
	Value int
}

// Money is the value of a currency attribute.
type Money struct {
	Value float64
}

// EntityCollection is an ordered list of records, used for bulk targets.
type EntityCollection struct {
	EntityName string
	Entities   []*Entity
}

// Len returns the number of records, zero for a nil collection.
func (c *EntityCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entities)
}
