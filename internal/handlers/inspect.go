package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/tracing"
	"github.com/rappen/RappSack/pkg/xrm"
)

// InspectName is the registered name of the Inspect plugin.
const InspectName = "inspect"

var inspectViews = []contextentity.View{
	contextentity.Target,
	contextentity.PreImage,
	contextentity.PostImage,
	contextentity.Complete,
}

// Inspect traces every resolved view of every record in the context. It
// changes nothing and accepts any context.
type Inspect struct {
	plugin.Base
}

func (Inspect) Name() string { return InspectName }

// ServiceAs returns ServiceSystem; Inspect never calls the service.
func (Inspect) ServiceAs() plugin.ServiceAs { return plugin.ServiceSystem }

func (Inspect) Execute(_ context.Context, ex *plugin.Execution) error {
	if ex.Entities.Len() == 0 {
		traceViews(ex.Tracer, ex.Entity)
		return nil
	}
	for i, ce := range ex.Entities.All() {
		done := ex.Tracer.Block(fmt.Sprintf("Record %d", i))
		traceViews(ex.Tracer, ce)
		done()
	}
	return nil
}

func traceViews(tr *tracing.Tracer, ce *contextentity.ContextEntity) {
	for _, view := range inspectViews {
		e := ce.Get(view)
		if e == nil {
			tr.Trace("%s: none", view)
			continue
		}
		done := tr.Block(fmt.Sprintf("%s: %s %s (%d attributes)", view, e.LogicalName, e.ID, len(e.Attributes)))
		for _, name := range e.AttributeNames() {
			tr.Trace("%s = %s", name, FormatValue(e.Attributes[name]))
		}
		done()
	}
}

// FormatValue renders an attribute value for a trace line.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case xrm.EntityReference:
		if val.Name != "" {
			return fmt.Sprintf("%s:%s (%s)", val.LogicalName, val.ID, val.Name)
		}
		return fmt.Sprintf("%s:%s", val.LogicalName, val.ID)
	case xrm.OptionSetValue:
		return fmt.Sprintf("option %d", val.Value)
	case xrm.Money:
		return fmt.Sprintf("money %.2f", val.Value)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *xrm.Entity:
		if val == nil {
			return "null"
		}
		return fmt.Sprintf("entity %s:%s", val.LogicalName, val.ID)
	case *xrm.EntityCollection:
		return fmt.Sprintf("collection of %d", val.Len())
	default:
		return fmt.Sprint(val)
	}
}
