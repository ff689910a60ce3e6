package xrm

import (
	"iter"
	"time"

	"github.com/google/uuid"
)

// Input parameter names carrying the records of an operation.
const (
	ParameterTarget  = "Target"
	ParameterTargets = "Targets"
)

// Pipeline stages.
const (
	StagePreValidation = 10
	StagePreOperation  = 20
	StageMainOperation = 30
	StagePostOperation = 40
)

// ParameterCollection holds named input, output or shared parameters.
type ParameterCollection map[string]any

// Contains reports whether the key is present.
func (p ParameterCollection) Contains(key string) bool {
	_, ok := p[key]
	return ok
}

// Entity returns the parameter as a record.
func (p ParameterCollection) Entity(key string) (*Entity, bool) {
	e, ok := p[key].(*Entity)
	return e, ok && e != nil
}

// Reference returns the parameter as a record reference.
func (p ParameterCollection) Reference(key string) (EntityReference, bool) {
	switch r := p[key].(type) {
	case EntityReference:
		return r, true
	case *EntityReference:
		if r != nil {
			return *r, true
		}
	}
	return EntityReference{}, false
}

// EntityCollection returns the parameter as a record collection.
func (p ParameterCollection) EntityCollection(key string) (*EntityCollection, bool) {
	c, ok := p[key].(*EntityCollection)
	return c, ok && c != nil
}

// EntityImage is a named snapshot of a record.
type EntityImage struct {
	Name   string
	Entity *Entity
}

// EntityImageCollection is an insertion-ordered set of named images.
type EntityImageCollection []EntityImage

// Len returns the number of images.
func (c EntityImageCollection) Len() int { return len(c) }

// Get returns the image with the given name. Matching is case-sensitive.
func (c EntityImageCollection) Get(name string) (*Entity, bool) {
	for _, img := range c {
		if img.Name == name {
			return img.Entity, true
		}
	}
	return nil, false
}

// Names returns the image names in order.
func (c EntityImageCollection) Names() []string {
	names := make([]string, len(c))
	for i, img := range c {
		names[i] = img.Name
	}
	return names
}

// All iterates images in order.
func (c EntityImageCollection) All() iter.Seq2[string, *Entity] {
	return func(yield func(string, *Entity) bool) {
		for _, img := range c {
			if !yield(img.Name, img.Entity) {
				return
			}
		}
	}
}

// Add stores an image, replacing one with the same name in place.
func (c *EntityImageCollection) Add(name string, e *Entity) {
	for i := range *c {
		if (*c)[i].Name == name {
			(*c)[i].Entity = e
			return
		}
	}
	*c = append(*c, EntityImage{Name: name, Entity: e})
}

// ExecutionContext is what the host hands to a plugin for one invocation.
// Plugins and resolvers treat it as read-only.
type ExecutionContext struct {
	MessageName        string
	Stage              int
	Mode               int
	Depth              int
	PrimaryEntityName  string
	PrimaryEntityID    uuid.UUID
	UserID             uuid.UUID
	InitiatingUserID   uuid.UUID
	BusinessUnitID     uuid.UUID
	OrganizationID     uuid.UUID
	OrganizationName   string
	CorrelationID      uuid.UUID
	RequestID          uuid.UUID
	OperationCreatedOn time.Time

	InputParameters  ParameterCollection
	OutputParameters ParameterCollection
	SharedVariables  ParameterCollection

	PreEntityImages  EntityImageCollection
	PostEntityImages EntityImageCollection

	// Per-record images of bulk operations, parallel to the Targets collection.
	PreEntityImagesCollection  []EntityImageCollection
	PostEntityImagesCollection []EntityImageCollection

	ParentContext *ExecutionContext
}
