package contextentity

import (
	"iter"

	"github.com/rappen/RappSack/pkg/xrm"
)

// Image names the platform registers for full-record fallback images. They
// never satisfy an image lookup.
const (
	PreBusinessEntity  = "PreBusinessEntity"
	PostBusinessEntity = "PostBusinessEntity"
)

// Option configures a ContextEntity.
type Option func(*ContextEntity)

// WithPreImageName selects the pre image by exact name instead of taking the first one.
func WithPreImageName(name string) Option {
	return func(c *ContextEntity) { c.preImageName = name }
}

// WithPostImageName selects the post image by exact name instead of taking the first one.
func WithPostImageName(name string) Option {
	return func(c *ContextEntity) { c.postImageName = name }
}

// WithIndex switches the resolver to bulk mode for the record at index i of
// the Targets collection. A negative index keeps single-record mode.
func WithIndex(i int) Option {
	return func(c *ContextEntity) { c.index = i }
}

// ContextEntity resolves the views of one logical record of an invocation.
// Target, PreImage and PostImage are memoized once found in single-record
// mode; Complete is recomputed on every call. It never modifies the context
// and is not safe for concurrent use.
type ContextEntity struct {
	ctx           *xrm.ExecutionContext
	preImageName  string
	postImageName string
	index         int

	target *xrm.Entity
	pre    *xrm.Entity
	post   *xrm.Entity
}

// New returns a resolver over ctx. A nil ctx resolves every view to nil.
func New(ctx *xrm.ExecutionContext, opts ...Option) *ContextEntity {
	c := &ContextEntity{ctx: ctx, index: -1}
	for _, opt := range opts {
		opt(c)
	}
	if c.index < 0 {
		c.index = -1
	}
	return c
}

// Index returns the position in the Targets collection, or -1 in single-record mode.
func (c *ContextEntity) Index() int { return c.index }

// IsBulk reports whether the resolver addresses one record of a bulk operation.
func (c *ContextEntity) IsBulk() bool { return c.index >= 0 }

// Context returns the execution context the resolver reads from.
func (c *ContextEntity) Context() *xrm.ExecutionContext { return c.ctx }

// Get resolves the requested view, or nil when the context does not carry it.
func (c *ContextEntity) Get(view View) *xrm.Entity {
	if c == nil || c.ctx == nil {
		return nil
	}
	switch view {
	case Target:
		return c.resolveTarget()
	case PreImage:
		return c.resolveImage(&c.pre, c.ctx.PreEntityImages, c.ctx.PreEntityImagesCollection, c.preImageName)
	case PostImage:
		return c.resolveImage(&c.post, c.ctx.PostEntityImages, c.ctx.PostEntityImagesCollection, c.postImageName)
	case Complete:
		return c.Get(Target).Merge(c.Get(PostImage)).Merge(c.Get(PreImage))
	}
	return nil
}

// Target is shorthand for Get(Target).
func (c *ContextEntity) Target() *xrm.Entity { return c.Get(Target) }

// PreImage is shorthand for Get(PreImage).
func (c *ContextEntity) PreImage() *xrm.Entity { return c.Get(PreImage) }

// PostImage is shorthand for Get(PostImage).
func (c *ContextEntity) PostImage() *xrm.Entity { return c.Get(PostImage) }

// Complete is shorthand for Get(Complete).
func (c *ContextEntity) Complete() *xrm.Entity { return c.Get(Complete) }

func (c *ContextEntity) resolveTarget() *xrm.Entity {
	if c.IsBulk() {
		targets, ok := c.ctx.InputParameters.EntityCollection(xrm.ParameterTargets)
		if !ok || targets.Len() <= c.index {
			return nil
		}
		return targets.Entities[c.index]
	}

	if c.target != nil {
		return c.target
	}
	if e, ok := c.ctx.InputParameters.Entity(xrm.ParameterTarget); ok {
		c.target = e
	} else if ref, ok := c.ctx.InputParameters.Reference(xrm.ParameterTarget); ok {
		c.target = xrm.NewEntity(ref.LogicalName, ref.ID)
	}
	return c.target
}

func (c *ContextEntity) resolveImage(cache **xrm.Entity, single xrm.EntityImageCollection, perRecord []xrm.EntityImageCollection, name string) *xrm.Entity {
	if c.IsBulk() {
		targets, ok := c.ctx.InputParameters.EntityCollection(xrm.ParameterTargets)
		if !ok || len(perRecord) != targets.Len() || len(perRecord) <= c.index {
			return nil
		}
		return selectImage(perRecord[c.index], name)
	}

	if *cache == nil && single.Len() > 0 {
		*cache = selectImage(single, name)
	}
	return *cache
}

// selectImage returns the first image that is not a sentinel and, when name
// is set, carries exactly that name.
func selectImage(images xrm.EntityImageCollection, name string) *xrm.Entity {
	for imageName, e := range images.All() {
		if isSentinel(imageName) {
			continue
		}
		if name == "" || imageName == name {
			return e
		}
	}
	return nil
}

func isSentinel(name string) bool {
	return name == "" || name == PreBusinessEntity || name == PostBusinessEntity
}

// Collection holds one resolver per record of a bulk operation, in the order
// of the Targets collection.
type Collection struct {
	items []*ContextEntity
}

// NewCollection builds a resolver for every entry of the Targets input
// parameter. Only image name options apply; an index option is ignored. The
// collection is empty when the context has no Targets.
func NewCollection(ctx *xrm.ExecutionContext, opts ...Option) *Collection {
	col := &Collection{}
	if ctx == nil {
		return col
	}
	targets, ok := ctx.InputParameters.EntityCollection(xrm.ParameterTargets)
	if !ok {
		return col
	}
	col.items = make([]*ContextEntity, targets.Len())
	for i := range col.items {
		col.items[i] = New(ctx, append(opts[:len(opts):len(opts)], WithIndex(i))...)
	}
	return col
}

// Len returns the number of records.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// At returns the resolver for record i, or nil when out of range.
func (c *Collection) At(i int) *ContextEntity {
	if c == nil || i < 0 || i >= len(c.items) {
		return nil
	}
	return c.items[i]
}

// All iterates the resolvers in record order. It can be ranged over repeatedly.
func (c *Collection) All() iter.Seq2[int, *ContextEntity] {
	return func(yield func(int, *ContextEntity) bool) {
		if c == nil {
			return
		}
		for i, item := range c.items {
			if !yield(i, item) {
				return
			}
		}
	}
}
