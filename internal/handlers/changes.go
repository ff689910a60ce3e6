package handlers

import (
	"context"
	"reflect"

	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/xrm"
)

// ChangesName is the registered name of the Changes plugin.
const ChangesName = "changes"

// Changes traces the attributes an update actually changed, comparing the
// Target with the PreImage.
type Changes struct {
	plugin.Base
}

func (Changes) Name() string { return ChangesName }

func (Changes) Needs() plugin.Needs {
	return plugin.Needs{Message: "Update", PreImage: true}
}

func (Changes) ServiceAs() plugin.ServiceAs { return plugin.ServiceSystem }

func (Changes) Execute(_ context.Context, ex *plugin.Execution) error {
	changed := Diff(ex.Entity.PreImage(), ex.Target())
	if len(changed) == 0 {
		ex.Trace("No attribute changed")
		return nil
	}
	done := ex.Tracer.Block("Changed attributes")
	defer done()
	for _, name := range changed {
		before, _ := ex.Entity.PreImage().Get(name)
		after, _ := ex.Target().Get(name)
		ex.Trace("%s: %s -> %s", name, FormatValue(before), FormatValue(after))
	}
	return nil
}

// Diff returns the sorted names of the attributes of target whose value
// differs from before. Attributes missing from before count as changed.
func Diff(before, target *xrm.Entity) []string {
	var out []string
	for _, name := range target.AttributeNames() {
		after, _ := target.Get(name)
		prev, ok := before.Get(name)
		if !ok || !reflect.DeepEqual(prev, after) {
			out = append(out, name)
		}
	}
	return out
}
