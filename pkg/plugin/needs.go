package plugin

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rappen/RappSack/pkg/schema"
)

// Needs declares the preconditions under which a plugin's business logic runs.
// Empty fields accept anything. Per dimension a single value and a list may be
// given; the single value only counts when the list is empty.
type Needs struct {
	// ThrowIfNotMatch turns unmet needs into a NEEDS_NOT_MET failure instead
	// of a silent skip.
	ThrowIfNotMatch bool `yaml:"throw_if_not_match" json:"throw_if_not_match,omitempty"`

	Message string `yaml:"message" json:"message,omitempty"`
	// Stage 0 means no stage requirement.
	Stage  int    `yaml:"stage" json:"stage,omitempty" validate:"omitempty,oneof=10 20 30 40"`
	Entity string `yaml:"entity" json:"entity,omitempty"`

	Messages []string `yaml:"messages" json:"messages,omitempty" validate:"dive,required"`
	Stages   []int    `yaml:"stages" json:"stages,omitempty" validate:"dive,oneof=10 20 30 40"`
	Entities []string `yaml:"entities" json:"entities,omitempty" validate:"dive,required"`

	// Attributes requires the Target to carry at least one of the names.
	Attributes []string `yaml:"attributes" json:"attributes,omitempty" validate:"dive,required"`
	PreImage   bool     `yaml:"pre_image" json:"pre_image,omitempty"`
	PostImage  bool     `yaml:"post_image" json:"post_image,omitempty"`

	// Condition must evaluate to true over target, pre, post, complete and context.
	Condition         string `yaml:"condition" json:"condition,omitempty"`
	ConditionLanguage string `yaml:"condition_language" json:"condition_language,omitempty" validate:"omitempty,oneof=cel expr jq"`
}

// Folded returns a copy where Message, Stage and Entity have been moved into
// their lists when those are empty.
func (n Needs) Folded() Needs {
	out := n
	out.Messages = slices.Clone(n.Messages)
	out.Stages = slices.Clone(n.Stages)
	out.Entities = slices.Clone(n.Entities)
	out.Attributes = slices.Clone(n.Attributes)

	if len(out.Messages) == 0 && n.Message != "" {
		out.Messages = []string{n.Message}
	}
	if len(out.Stages) == 0 && n.Stage != 0 {
		out.Stages = []int{n.Stage}
	}
	if len(out.Entities) == 0 && n.Entity != "" {
		out.Entities = []string{n.Entity}
	}
	return out
}

// IsZero reports whether no requirement is declared.
func (n Needs) IsZero() bool {
	return n.Message == "" && n.Stage == 0 && n.Entity == "" &&
		len(n.Messages) == 0 && len(n.Stages) == 0 && len(n.Entities) == 0 &&
		len(n.Attributes) == 0 && !n.PreImage && !n.PostImage && n.Condition == ""
}

// Validate checks the declaration: stages must be pipeline stages, list
// entries must be non-empty, and the condition language must be known.
func (n Needs) Validate() error {
	return validateNeeds("", n).ToError()
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func needsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateNeeds collects every violation of n under the given path prefix.
func validateNeeds(prefix string, n Needs) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := needsValidator().Struct(n)
	if err == nil {
		return result
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		result.AddError(prefix, "invalid", err.Error())
		return result
	}
	for _, fe := range verrs {
		// Namespace is "Needs.stages[0]"; drop the type name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		path := field
		if prefix != "" {
			path = prefix + "." + field
		}
		result.AddError(path, fe.Tag(), describeFieldError(fe))
	}
	return result
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of " + fe.Param() + ", got " + formatValue(fe.Value())
	case "required":
		return "must not be empty"
	}
	return "failed " + fe.Tag() + " validation"
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}
