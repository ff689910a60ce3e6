package plugin

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

// ConditionEvaluator evaluates a boolean condition in the given language.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, language, expression string, data map[string]any) (bool, error)
}

// Violation is one unmet need.
type Violation struct {
	Rule string `json:"rule"`
	Text string `json:"text"`
}

// Verdict is the result of checking needs against one invocation.
type Verdict struct {
	Violations []Violation `json:"violations,omitempty"`
	Strict     bool        `json:"strict"`
}

// Passed reports whether every need was met.
func (v *Verdict) Passed() bool {
	return len(v.Violations) == 0
}

// Diagnostic joins the violation texts with newlines, in rule order.
func (v *Verdict) Diagnostic() string {
	texts := make([]string, len(v.Violations))
	for i, viol := range v.Violations {
		texts[i] = viol.Text
	}
	return strings.Join(texts, "\n")
}

// Rules returns the identifiers of the violated rules.
func (v *Verdict) Rules() []string {
	rules := make([]string, len(v.Violations))
	for i, viol := range v.Violations {
		rules[i] = viol.Rule
	}
	return rules
}

// Err returns a NEEDS_NOT_MET error carrying the diagnostic when the needs
// are strict and unmet, nil otherwise.
func (v *Verdict) Err() error {
	if v.Passed() || !v.Strict {
		return nil
	}
	return schema.NewError(schema.ErrCodeNeedsNotMet, v.Diagnostic()).
		WithDetails(map[string]any{"rules": v.Rules()})
}

// Gate checks needs. Conditions may be nil when no need declares a condition.
type Gate struct {
	Needs      Needs
	Conditions ConditionEvaluator
}

// Verify checks needs without condition support.
func Verify(ctx context.Context, needs Needs, ec *xrm.ExecutionContext, ce *contextentity.ContextEntity) *Verdict {
	return Gate{Needs: needs}.Verify(ctx, ec, ce)
}

// Verify evaluates every rule in fixed order and collects one violation per
// unmet rule. ce supplies the Target, PreImage and PostImage views; when nil
// a single-record resolver over ec is used.
func (g Gate) Verify(ctx context.Context, ec *xrm.ExecutionContext, ce *contextentity.ContextEntity) *Verdict {
	if ec == nil {
		ec = &xrm.ExecutionContext{}
	}
	if ce == nil {
		ce = contextentity.New(ec)
	}
	needs := g.Needs.Folded()
	v := &Verdict{Strict: needs.ThrowIfNotMatch}
	add := func(rule, text string) {
		v.Violations = append(v.Violations, Violation{Rule: rule, Text: text})
	}

	if len(needs.Messages) > 0 && !containsFold(needs.Messages, ec.MessageName) {
		add(schema.RuleMessage, "Wrong message: "+ec.MessageName+", need: "+strings.Join(needs.Messages, ", "))
	}
	if len(needs.Stages) > 0 && !slices.Contains(needs.Stages, ec.Stage) {
		add(schema.RuleStage, "Wrong stage: "+strconv.Itoa(ec.Stage)+", need: "+joinInts(needs.Stages))
	}
	if len(needs.Entities) > 0 && !containsFold(needs.Entities, ec.PrimaryEntityName) {
		add(schema.RuleEntity, "Wrong entity: "+ec.PrimaryEntityName+", need: "+strings.Join(needs.Entities, ", "))
	}
	if len(needs.Attributes) > 0 {
		target := ce.Target()
		switch {
		case target == nil:
			add(schema.RuleAttributes, "Target missing, cannot check required attributes")
		case !slices.ContainsFunc(needs.Attributes, target.Contains):
			add(schema.RuleAttributes, "Need any attributes: "+strings.Join(needs.Attributes, ", "))
		}
	}
	if needs.PreImage && ce.PreImage() == nil {
		add(schema.RulePreImage, "Missing pre image")
	}
	if needs.PostImage && ce.PostImage() == nil {
		add(schema.RulePostImage, "Missing post image")
	}
	if needs.Condition != "" {
		if text := g.checkCondition(ctx, needs, ce); text != "" {
			add(schema.RuleCondition, text)
		}
	}
	return v
}

func (g Gate) checkCondition(ctx context.Context, needs Needs, ce *contextentity.ContextEntity) string {
	if g.Conditions == nil {
		return "Condition failed: no condition evaluator configured"
	}
	ok, err := g.Conditions.Evaluate(ctx, needs.ConditionLanguage, needs.Condition, ConditionData(ce))
	if err != nil {
		if pe, isPE := schema.AsPluginError(err); isPE {
			return "Condition failed: " + pe.Message
		}
		return "Condition failed: " + err.Error()
	}
	if !ok {
		return "Condition not met: " + needs.Condition
	}
	return ""
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(item string) bool {
		return strings.EqualFold(item, s)
	})
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, n := range values {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
